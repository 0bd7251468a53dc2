package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jason9075/invisibrow/internal/config"
	"github.com/jason9075/invisibrow/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage browser sessions",
	RunE:  requireSubcommand,
}

var (
	sessionName     string
	sessionHeadless bool
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE:  runSessionCreate,
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	st, err := store.NewSessionStore(config.StorageDir())
	if err != nil {
		return err
	}
	sess, err := st.Create(sessionName, sessionHeadless)
	if err != nil {
		return err
	}
	fmt.Printf("created session %s (%s)\n", sess.ID, sess.Name)
	return nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionList,
}

func runSessionList(cmd *cobra.Command, args []string) error {
	st, err := store.NewSessionStore(config.StorageDir())
	if err != nil {
		return err
	}
	for _, sess := range st.List() {
		fmt.Printf("%s\t%s\theadless=%t\tverifying=%t\ttokens=%d\tcost=$%.4f\n",
			sess.ID, sess.Name, sess.Headless, sess.IsVerifying, sess.Stats.Tokens, sess.Stats.Cost)
	}
	return nil
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionRename,
}

func runSessionRename(cmd *cobra.Command, args []string) error {
	st, err := store.NewSessionStore(config.StorageDir())
	if err != nil {
		return err
	}
	return st.Rename(args[0], args[1])
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	st, err := store.NewSessionStore(config.StorageDir())
	if err != nil {
		return err
	}
	return st.Delete(args[0])
}

var sessionToggleHeadlessCmd = &cobra.Command{
	Use:   "toggle-headless <id> <true|false>",
	Short: "Toggle a session's headless preference",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionToggleHeadless,
}

func runSessionToggleHeadless(cmd *cobra.Command, args []string) error {
	var want bool
	switch args[1] {
	case "true":
		want = true
	case "false":
		want = false
	default:
		return fmt.Errorf("expected true or false, got %q", args[1])
	}
	st, err := store.NewSessionStore(config.StorageDir())
	if err != nil {
		return err
	}
	return st.ToggleHeadless(args[0], want)
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionName, "name", "", "session name")
	sessionCreateCmd.Flags().BoolVar(&sessionHeadless, "headless", true, "start headless")

	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionRenameCmd, sessionDeleteCmd, sessionToggleHeadlessCmd)
	rootCmd.AddCommand(sessionCmd)
}
