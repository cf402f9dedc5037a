package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nandemo-ya/testcontainers-go-pinot/client"
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/progress"
	"github.com/nandemo-ya/testcontainers-go-pinot/pinottest"
)

var querySingleStage bool

var queryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run a SQL query against the configured broker",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&querySingleStage, "single-stage", false, "Use the single-stage engine (query/sql)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	_, broker, err := pinottest.NewClients()
	if err != nil {
		return err
	}

	sql := strings.Join(args, " ")
	var resp *client.QueryResponse
	if querySingleStage {
		resp, err = broker.ExecuteSingleStageQuery(cmd.Context(), sql)
	} else {
		resp, err = broker.ExecuteQuery(cmd.Context(), sql)
	}
	if err != nil {
		return err
	}
	if resp.HasExceptions() {
		errs := make([]error, 0, len(resp.Exceptions))
		for _, e := range resp.Exceptions {
			errs = append(errs, e)
		}
		return errors.Join(errs...)
	}

	rows := resultRows(resp.ResultTable)
	if len(rows) > 0 {
		table, err := progress.Table(rows)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), table)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d row(s), %d docs scanned, %dms\n",
		resp.NumRowsResultSet, resp.NumDocsScanned, resp.TimeUsedMs)
	return nil
}

// resultRows renders a result table with the column names as header
func resultRows(rt *client.ResultTable) [][]string {
	if rt == nil {
		return nil
	}
	rows := [][]string{rt.DataSchema.ColumnNames}
	for _, r := range rt.Rows {
		row := make([]string, len(r))
		for i, v := range r {
			row[i] = fmt.Sprint(v)
		}
		rows = append(rows, row)
	}
	return rows
}
