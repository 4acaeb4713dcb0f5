package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"watchfolder/internal/config"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			if err := settings.Validate(); err != nil {
				return fmt.Errorf("%s: %w", ctx.settingsPath(), err)
			}
			folders := 0
			for _, task := range settings.Tasks() {
				folders += len(task.Folders())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d tasks, %d folders)\n", ctx.settingsPath(), len(settings.Tasks()), folders)
			return nil
		},
	}
}

func newFoldersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List configured watch folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			rows := folderRows(settings)
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No watch folders configured")
				return nil
			}
			headers := []string{"Task", "ID", "Path", "Filter", "Move", "Recursive", "Watching"}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, nil))
			return nil
		},
	}
}

func folderRows(settings *config.Settings) [][]string {
	var rows [][]string
	for _, task := range settings.Tasks() {
		for _, folder := range task.Folders() {
			filter := strings.TrimSpace(folder.Filter)
			if filter == "" {
				filter = "*"
			}
			rows = append(rows, []string{
				task.DisplayName(),
				shortID(folder.ID),
				folder.Path,
				filter,
				yesNo(folder.MoveToScreenshotsFolder),
				yesNo(folder.IncludeSubdirectories),
				yesNo(task.WatchingEnabled()),
			})
		}
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
