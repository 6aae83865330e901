package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"droneops-ctl/internal/export"
	"droneops-ctl/internal/storage"
)

var (
	exportDB      string
	exportSession string
	exportOut     string
	exportList    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a recorded flight to a spreadsheet",
	Long:  "export writes one SQLite flight log session to an XLSX workbook with summary, telemetry and safety event sheets.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db := exportDB
		if db == "" {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			db = cfg.Record.SQLite
		}
		if db == "" {
			return fmt.Errorf("no flight log database: pass --db or set record.sqlite")
		}
		store := storage.New(db)
		defer store.Close()

		if exportList {
			return listSessions(store)
		}

		sess, err := pickSession(store, exportSession)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = fmt.Sprintf("flight-%s.xlsx", sess.UUID)
		}
		if err := export.WriteXLSX(store, sess.ID, out); err != nil {
			return err
		}
		recs, err := store.Telemetry(sess.ID)
		if err != nil {
			return err
		}
		events, err := store.Events(sess.ID)
		if err != nil {
			return err
		}
		sum := export.Summarize(recs, events)
		fmt.Fprintf(cmd.OutOrStdout(), "Exported session %s (%s records, %d safety events) to %s\n",
			sess.UUID, humanize.Comma(int64(sum.Records)), len(events), out)
		return nil
	},
}

// pickSession resolves uuid, or the newest session when uuid is empty.
func pickSession(store *storage.Store, uuid string) (storage.Session, error) {
	if uuid != "" {
		return store.SessionByUUID(uuid)
	}
	sessions, err := store.Sessions()
	if err != nil {
		return storage.Session{}, err
	}
	if len(sessions) == 0 {
		return storage.Session{}, fmt.Errorf("flight log contains no sessions")
	}
	return sessions[len(sessions)-1], nil
}

func listSessions(store *storage.Store) error {
	sessions, err := store.Sessions()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tVEHICLE\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.ID, s.UUID, s.Vehicle, humanize.Time(s.StartTime))
	}
	return tw.Flush()
}

func init() {
	exportCmd.Flags().StringVar(&exportDB, "db", "", "SQLite flight log (defaults to record.sqlite from the config)")
	exportCmd.Flags().StringVar(&exportSession, "session", "", "Session UUID (newest when empty)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output workbook path")
	exportCmd.Flags().BoolVar(&exportList, "list", false, "List recorded sessions and exit")
}
