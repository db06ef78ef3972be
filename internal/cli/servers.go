package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/treykane/proxypal/internal/accesskey"
	"github.com/treykane/proxypal/internal/history"
	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/store"
	"github.com/treykane/proxypal/internal/util"
)

func newServersCmd() *cobra.Command {
	root := &cobra.Command{Use: "servers", Short: "Manage saved Shadowsocks servers"}

	var recent, jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := store.Load()
			if err != nil {
				return err
			}
			lastUsed, err := history.LastUsed()
			if err != nil {
				lastUsed = map[string]int64{}
			}
			indexOf := make(map[string]int, len(servers))
			for i, s := range servers {
				indexOf[s.ID] = i + 1
			}
			if recent {
				servers = history.SortServersRecent(servers, lastUsed)
			}
			if jsonOut {
				type row struct {
					Index  int    `json:"index"`
					Ref    string `json:"ref"`
					Name   string `json:"name"`
					Server string `json:"server"`
					Port   uint16 `json:"port"`
					Method string `json:"method"`
				}
				rows := make([]row, 0, len(servers))
				for _, s := range servers {
					rows = append(rows, row{Index: indexOf[s.ID], Ref: s.Ref(), Name: s.DisplayName(), Server: s.Server, Port: s.ServerPort, Method: s.Method})
				}
				return writeJSON(rows)
			}
			fmt.Printf("%-4s %-14s %-26s %-28s %s\n", "#", "REF", "NAME", "ENDPOINT", "CIPHER")
			for _, s := range servers {
				fmt.Printf("%-4d %-14s %-26s %-28s %s\n", indexOf[s.ID], s.Ref(), util.Truncate(s.DisplayName(), 26), util.Truncate(s.Endpoint(), 28), s.Method)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&recent, "recent", false, "sort by most recently connected")
	list.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	var name string
	var replace bool
	add := &cobra.Command{
		Use:   "add <ss://key>",
		Short: "Save a server from an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := accesskey.Parse(args[0])
			if err != nil {
				return err
			}
			if n := strings.TrimSpace(name); n != "" {
				cfg.Name = n
			}
			if replace {
				err = store.Replace(cfg)
			} else {
				err = store.Add(cfg)
			}
			if err != nil {
				return err
			}
			fmt.Printf("saved %s (%s) ref=%s\n", cfg.DisplayName(), cfg.Endpoint(), cfg.Ref())
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (defaults to the key's tag or host)")
	add.Flags().BoolVar(&replace, "replace", false, "discard all other saved servers")

	rm := &cobra.Command{
		Use:   "rm <index|ref>",
		Short: "Delete a saved server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := findSaved(args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(s.ID); err != nil {
				return err
			}
			if err := history.Forget(s.Ref()); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", s.DisplayName())
			return nil
		},
	}

	rename := &cobra.Command{
		Use:   "rename <index|ref> <name>",
		Short: "Change a saved server's display name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := findSaved(args[0])
			if err != nil {
				return err
			}
			newName := strings.Join(args[1:], " ")
			if err := store.Rename(s.ID, newName); err != nil {
				return err
			}
			fmt.Printf("renamed %s to %s\n", s.DisplayName(), strings.TrimSpace(newName))
			return nil
		},
	}

	root.AddCommand(list, add, rm, rename)
	return root
}

func findSaved(selector string) (model.ServerConfig, error) {
	if strings.HasPrefix(strings.TrimSpace(selector), "ss://") {
		return model.ServerConfig{}, errors.New("select a saved server by index or ref, not by access key")
	}
	servers, err := store.Load()
	if err != nil {
		return model.ServerConfig{}, err
	}
	return store.Find(servers, selector)
}
