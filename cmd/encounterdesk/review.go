package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wildbook/encounterdesk/internal/config"
	"github.com/wildbook/encounterdesk/internal/platform/notification"
	"github.com/wildbook/encounterdesk/internal/platform/websocket"
	"github.com/wildbook/encounterdesk/internal/platform/wildbook"
	"github.com/wildbook/encounterdesk/internal/review/encounterstore"
	"github.com/wildbook/encounterdesk/internal/review/matchstore"
	"github.com/wildbook/encounterdesk/internal/review/typeahead"
)

// session is what every review command starts from.
type session struct {
	cfg    *config.Config
	logger zerolog.Logger
	client *wildbook.Client
	sink   notification.Sink
}

func newSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr)
	client, err := wildbook.New(cfg.WildbookURL,
		wildbook.WithTimeout(cfg.HTTPTimeout()),
		wildbook.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, client: client, sink: notification.NewLogSink(logger)}, nil
}

func (s *session) store() *encounterstore.Store {
	return encounterstore.New(s.client, encounterstore.Options{
		Logger:         &s.logger,
		Sink:           s.sink,
		SearchDebounce: s.cfg.SearchDebounce(),
		SearchMinChars: s.cfg.SearchMinChars,
		SearchPageSize: s.cfg.SearchPageSize,
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportInvalid prints the field errors of section and returns the error
// that fails the command.
func reportInvalid(w io.Writer, section string, errs map[string]string) error {
	if err := printJSON(w, errs); err != nil {
		return fmt.Errorf("print %s errors: %w", section, err)
	}
	return fmt.Errorf("section %s has invalid values", section)
}

// parseValue reads a command-line value as JSON and falls back to the raw
// string, so `count=3` sets a number and `state=approved` a string.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseAssignments splits path=value arguments.
func parseAssignments(args []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for _, a := range args {
		path, raw, ok := strings.Cut(a, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("expected path=value, got %q", a)
		}
		out[path] = parseValue(raw)
	}
	return out, nil
}

func encounterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encounter",
		Short: "Review and edit encounters on a running server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print an encounter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			st := sess.store()
			defer st.Close()
			if err := st.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st.EncounterData())
		},
	})

	setCmd := &cobra.Command{
		Use:   "set <id> <path=value>...",
		Short: "Edit fields of one section and save them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, _ := cmd.Flags().GetString("section")
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			sess, err := newSession()
			if err != nil {
				return err
			}
			st := sess.store()
			defer st.Close()
			if err := st.Load(cmd.Context(), args[0]); err != nil {
				return err
			}

			paths := make([]string, 0, len(values))
			for p := range values {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				st.SetFieldValue(section, p, values[p])
			}
			if st.SectionHasErrors(section) {
				return reportInvalid(cmd.ErrOrStderr(), section, st.Errors(section))
			}
			if err := st.SaveSection(cmd.Context(), section, ""); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st.EncounterData())
		},
	}
	setCmd.Flags().String("section", "metadata", "Section the fields belong to")
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "state <id> <state>",
		Short: "Change the workflow state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			st := sess.store()
			defer st.Close()
			if err := st.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			return st.ChangeEncounterState(cmd.Context(), args[1])
		},
	})

	personCmd := &cobra.Command{
		Use:   "person <id>",
		Short: "Add a person to an encounter role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")

			sess, err := newSession()
			if err != nil {
				return err
			}
			st := sess.store()
			defer st.Close()
			if err := st.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			st.SetNewPersonName(name)
			st.SetNewPersonEmail(email)
			st.SetNewPersonRole(role)
			if st.SectionHasErrors("people") {
				return reportInvalid(cmd.ErrOrStderr(), "people", st.Errors("people"))
			}
			return st.AddNewPerson(cmd.Context())
		},
	}
	personCmd.Flags().String("name", "", "Display name")
	personCmd.Flags().String("email", "", "Email address")
	personCmd.Flags().String("role", "submitter", "One of submitter, photographer, informOther")
	cmd.AddCommand(personCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "watch [id]...",
		Short: "Stream change events; all encounters when no id is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			wsURL, err := websocket.WatchURL(sess.cfg.WildbookURL, args...)
			if err != nil {
				return err
			}
			sess.logger.Info().Str("url", wsURL).Msg("watching")
			out := json.NewEncoder(cmd.OutOrStdout())
			return websocket.Watch(cmd.Context(), wsURL, func(ev websocket.Event) error {
				return out.Encode(ev)
			})
		},
	})

	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run the individual and sighting lookups",
	}

	individualCmd := &cobra.Command{
		Use:   "individual <query>",
		Short: "Find individuals by name or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encounterID, _ := cmd.Flags().GetString("encounter")
			return runLookup(cmd, encounterID, func(st *encounterstore.Store) *typeahead.Controller {
				st.SetIndividualSearchInput(args[0])
				return st.IndividualSearch()
			})
		},
	}
	individualCmd.Flags().String("encounter", "", "Restrict to this encounter's taxonomy")
	cmd.AddCommand(individualCmd)

	cmd.AddCommand(&cobra.Command{
		Use:     "occurrence <query>",
		Aliases: []string{"sighting"},
		Short:   "Find sightings by id",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd, "", func(st *encounterstore.Store) *typeahead.Controller {
				st.SetSightingSearchInput(args[0])
				return st.SightingSearch()
			})
		},
	})

	return cmd
}

// runLookup feeds one typeahead, skips the debounce and prints the options
// once the search has returned.
func runLookup(cmd *cobra.Command, encounterID string, feed func(*encounterstore.Store) *typeahead.Controller) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	st := sess.store()
	defer st.Close()
	if encounterID != "" {
		if err := st.Load(cmd.Context(), encounterID); err != nil {
			return err
		}
	}
	ctl := feed(st)
	ctl.Flush()
	ctl.Wait()
	return printJSON(cmd.OutOrStdout(), ctl.Options())
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <encounter-id>",
		Short: "Start an identification task for an encounter's annotations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locations, _ := cmd.Flags().GetStringSlice("location")
			algorithms, _ := cmd.Flags().GetStringSlice("algorithm")
			owner, _ := cmd.Flags().GetString("owner")

			sess, err := newSession()
			if err != nil {
				return err
			}
			st := sess.store()
			defer st.Close()
			if err := st.Load(cmd.Context(), args[0]); err != nil {
				return err
			}

			ms := matchstore.New(st, sess.client, matchstore.Options{Logger: &sess.logger, Sink: sess.sink})
			defer ms.Close()
			if len(locations) > 0 {
				ms.SetLocationIDs(locations)
			}
			if len(algorithms) > 0 {
				ms.SetAlgorithms(algorithms)
			}
			ms.SetOwner(owner)

			res, err := ms.StartMatch(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"taskId":     res.TaskID,
				"resultsUrl": sess.client.ResultsURL(res.TaskID),
			})
		},
	}
	cmd.Flags().StringSlice("location", nil, "Location ids to match against (defaults to the encounter's location)")
	cmd.Flags().StringSlice("algorithm", nil, "Algorithm descriptions (defaults to the taxonomy's defaults)")
	cmd.Flags().String("owner", "", "Set to "+matchstore.OwnerMine+" to match only your own data")
	return cmd
}
