package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/model"
)

var (
	flagParentFolder string
	flagFolder       string
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage the prompt library",
}

func init() {
	libraryAddFolderCmd.Flags().StringVar(&flagParentFolder, "parent", model.RootFolderID, "parent folder id")
	libraryAddCmd.Flags().StringVar(&flagFolder, "folder", model.RootFolderID, "folder id")

	libraryCmd.AddCommand(libraryLsCmd, libraryAddFolderCmd, libraryRmFolderCmd,
		libraryAddCmd, libraryRmCmd, libraryImportCmd)
}

var libraryLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List folders and prompts as a tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		printFolder(lib, model.RootFolderID, 0)
		return nil
	},
}

func printFolder(lib *model.Library, folderID string, depth int) {
	folder := lib.Folder(folderID)
	if folder == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s%s/ (%s)\n", indent, folder.Name, folder.ID)
	for _, pid := range folder.PromptIDs {
		if p, ok := lib.Prompts[pid]; ok {
			fmt.Printf("%s  %s  %q\n", indent, p.ID, p.Title)
		}
	}
	for _, cid := range folder.ChildFolderIDs {
		printFolder(lib, cid, depth+1)
	}
}

var libraryAddFolderCmd = &cobra.Command{
	Use:   "add-folder <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		folder, err := lib.CreateFolder(args[0], flagParentFolder)
		if err != nil {
			return err
		}
		if err := saveLibrary(lib); err != nil {
			return err
		}
		fmt.Printf("created folder %s (%s)\n", folder.Name, folder.ID)
		return nil
	},
}

var libraryRmFolderCmd = &cobra.Command{
	Use:   "rm-folder <folderId>",
	Short: "Delete a folder, its subfolders, and all their prompts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		if err := lib.DeleteFolder(args[0]); err != nil {
			return err
		}
		if err := saveLibrary(lib); err != nil {
			return err
		}
		fmt.Printf("deleted folder %s\n", args[0])
		return nil
	},
}

var libraryAddCmd = &cobra.Command{
	Use:   "add <title> <body>",
	Short: "Create a prompt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		prompt, err := lib.CreatePrompt(args[0], args[1], flagFolder)
		if err != nil {
			return err
		}
		if err := saveLibrary(lib); err != nil {
			return err
		}
		fmt.Printf("created prompt %s\n", prompt.ID)
		return nil
	},
}

var libraryRmCmd = &cobra.Command{
	Use:   "rm <promptId>",
	Short: "Delete a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := fetchLibrary()
		if err != nil {
			return err
		}
		if err := lib.DeletePrompt(args[0]); err != nil {
			return err
		}
		if err := saveLibrary(lib); err != nil {
			return err
		}
		fmt.Printf("deleted prompt %s\n", args[0])
		return nil
	},
}

var libraryImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import a prompt from a JSON file ({title, body, folderId?, tags?})",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var params bridge.ImportPromptParams
		if err := json.Unmarshal(data, &params); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		resp, err := call(bridge.MsgImportExternalPrompt, params)
		if err != nil {
			return err
		}
		var created model.Prompt
		_ = json.Unmarshal(resp.Data, &created)
		fmt.Printf("imported prompt %s (%s)\n", created.ID, created.Title)
		return nil
	},
}

func saveLibrary(lib *model.Library) error {
	_, err := call(bridge.MsgSaveLibraryData, lib)
	return err
}
