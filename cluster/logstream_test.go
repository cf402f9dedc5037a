package cluster

import (
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
)

var _ = Describe("LogStream", func() {
	var stream *LogStream

	BeforeEach(func() {
		stream = NewLogStream()
	})

	It("should replay everything to a new reader", func() {
		stream.Accept(testcontainers.Log{LogType: testcontainers.StdoutLog, Content: []byte("one\n")})
		stream.Accept(testcontainers.Log{LogType: testcontainers.StderrLog, Content: []byte("two\n")})
		Expect(stream.Close()).To(Succeed())

		data, err := io.ReadAll(stream.NewReader())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("one\ntwo\n"))
		Expect(stream.String()).To(Equal("one\ntwo\n"))
	})

	It("should block a reader until output arrives", func() {
		reader := stream.NewReader()
		defer reader.Close()

		got := make(chan string, 1)
		go func() {
			defer GinkgoRecover()
			buf := make([]byte, 16)
			n, err := reader.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			got <- string(buf[:n])
		}()

		Consistently(got, 50*time.Millisecond).ShouldNot(Receive())
		_, _ = stream.Write([]byte("hello"))
		Eventually(got).Should(Receive(Equal("hello")))
	})

	It("should end readers with EOF when closed", func() {
		reader := stream.NewReader()
		done := make(chan error, 1)
		go func() {
			_, err := reader.Read(make([]byte, 8))
			done <- err
		}()

		Expect(stream.Close()).To(Succeed())
		Eventually(done).Should(Receive(Equal(io.EOF)))
	})

	It("should unblock a reader that is closed", func() {
		reader := stream.NewReader()
		done := make(chan error, 1)
		go func() {
			_, err := reader.Read(make([]byte, 8))
			done <- err
		}()

		Expect(reader.Close()).To(Succeed())
		Eventually(done).Should(Receive(Equal(io.ErrClosedPipe)))
	})

	It("should drop writes after close", func() {
		_, _ = stream.Write([]byte("kept"))
		Expect(stream.Close()).To(Succeed())

		_, err := stream.Write([]byte("dropped"))
		Expect(err).To(MatchError(io.ErrClosedPipe))
		Expect(stream.String()).To(Equal("kept"))
	})
})
