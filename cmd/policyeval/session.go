package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionInitCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the cached judge assistant session",
	Long: `Manage the assistant session the judge evaluates with.

The session is created once (guideline upload, indexing, assistant creation) and cached
under session.path. It is never invalidated automatically; use "session clear" to force
a new one on the next run.`,
}

var sessionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the assistant session unless one is cached",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := buildSessionStore()
		if err != nil {
			return err
		}
		defer closeStore()
		client, err := buildJudge()
		if err != nil {
			return err
		}
		sess, err := newSessionManager(store, client).GetOrCreate(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, sess)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached assistant session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := buildSessionStore()
		if err != nil {
			return err
		}
		defer closeStore()
		sess, ok, err := newSessionManager(store, nil).Load(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no cached session in %s", cfg.Session.Path)
		}
		return printJSON(cmd, sess)
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached assistant session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := buildSessionStore()
		if err != nil {
			return err
		}
		defer closeStore()
		if err := newSessionManager(store, nil).Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "session cache cleared")
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
