package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jason9075/invisibrow/internal/config"
	"github.com/jason9075/invisibrow/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect long-term memory and the self-learned bot-keyword list",
	RunE:  requireSubcommand,
}

var memoryKeywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "List the self-learned bot-block keywords",
	RunE:  runMemoryKeywords,
}

func runMemoryKeywords(cmd *cobra.Command, args []string) error {
	m, err := memory.Open(config.MemoryDBPath())
	if err != nil {
		return err
	}
	defer m.Close()

	all, err := m.GetAllBotKeywords()
	if err != nil {
		return err
	}
	for _, kw := range all {
		fmt.Printf("%s\t%s\n", kw.Keyword, kw.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

var memoryAddKeywordCmd = &cobra.Command{
	Use:   "add-keyword <keyword>",
	Short: "Manually add a bot-block keyword",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryAddKeyword,
}

func runMemoryAddKeyword(cmd *cobra.Command, args []string) error {
	m, err := memory.Open(config.MemoryDBPath())
	if err != nil {
		return err
	}
	defer m.Close()
	return m.AddBotKeyword(args[0])
}

var memoryDeleteKeywordCmd = &cobra.Command{
	Use:   "delete-keyword <keyword>",
	Short: "Remove a bot-block keyword",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryDeleteKeyword,
}

func runMemoryDeleteKeyword(cmd *cobra.Command, args []string) error {
	m, err := memory.Open(config.MemoryDBPath())
	if err != nil {
		return err
	}
	defer m.Close()
	return m.DeleteBotKeyword(args[0])
}

func init() {
	memoryCmd.AddCommand(memoryKeywordsCmd, memoryAddKeywordCmd, memoryDeleteKeywordCmd)
	rootCmd.AddCommand(memoryCmd)
}
