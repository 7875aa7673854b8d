package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"github.com/pneumacap/otcs-mcp-sub000/factory"
	"github.com/pneumacap/otcs-mcp-sub000/tools"
	"github.com/spf13/cobra"
)

// cliConfig carries the loaded configuration and the flags that override it.
type cliConfig struct {
	config  *otcs.Config
	baseURL string
	ticket  string
	svc     otcs.CategoryService
}

func (c *cliConfig) service() (otcs.CategoryService, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	if c.baseURL != "" {
		c.config.Server.BaseURL = c.baseURL
	}
	if c.ticket != "" {
		c.config.Server.Ticket = c.ticket
	}
	svc, err := factory.NewCategoryService(c.config)
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

func newRootCommand(config *otcs.Config) *cobra.Command {
	cfg := &cliConfig{config: config}
	cmd := &cobra.Command{
		Use:           "otcs",
		Short:         "Read and write category attributes on a content server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&cfg.baseURL, "base-url", "", "REST API root (overrides OTCS_BASE_URL)")
	cmd.PersistentFlags().StringVar(&cfg.ticket, "ticket", "", "existing session ticket (overrides OTCS_TICKET)")
	cmd.AddCommand(
		newCategoriesCommand(cfg),
		newCategoryCommand(cfg),
		newFormCommand(cfg),
		newAddCommand(cfg),
		newUpdateCommand(cfg),
		newRemoveCommand(cfg),
		newWorkspaceCommand(cfg),
		newResolveCommand(cfg),
		newToolsCommand(cfg),
	)
	return cmd
}

func newCategoriesCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "categories <node-id>",
		Short: "List the categories of a node with their values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseIDArg("node-id", args[0])
			if err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			categories, err := svc.GetCategories(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), categories)
		},
	}
}

func newCategoryCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "category <node-id> <category-id>",
		Short: "Show one category of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, categoryID, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			category, err := svc.GetCategory(cmd.Context(), nodeID, categoryID)
			if err != nil {
				return err
			}
			if category == nil {
				return fmt.Errorf("node %d does not carry category %d", nodeID, categoryID)
			}
			return printJSON(cmd.OutOrStdout(), category)
		},
	}
}

func newFormCommand(cfg *cliConfig) *cobra.Command {
	var mode string
	var valuesSchema bool
	cmd := &cobra.Command{
		Use:   "form <node-id> <category-id>",
		Short: "Show the attribute schema of a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, categoryID, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			var def *otcs.CategoryDefinition
			switch mode {
			case "create":
				def, err = svc.GetCategoryCreateForm(cmd.Context(), nodeID, categoryID)
			case "update":
				def, err = svc.GetCategoryUpdateForm(cmd.Context(), nodeID, categoryID)
			default:
				return fmt.Errorf("--mode must be create or update")
			}
			if err != nil {
				return err
			}
			if valuesSchema {
				return printJSON(cmd.OutOrStdout(), tools.CategoryValuesSchema(def))
			}
			return printJSON(cmd.OutOrStdout(), def)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "update", "form to read (create|update)")
	cmd.Flags().BoolVar(&valuesSchema, "values-schema", false, "print the JSON Schema of the values object instead")
	return cmd
}

func newAddCommand(cfg *cliConfig) *cobra.Command {
	var values string
	cmd := &cobra.Command{
		Use:   "add <node-id> <category-id>",
		Short: "Apply a category to a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, categoryID, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			var valueMap otcs.ValueMap
			if values != "" {
				if err := readJSONArg(cmd.InOrStdin(), values, &valueMap); err != nil {
					return err
				}
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			result, err := svc.AddCategory(cmd.Context(), nodeID, categoryID, valueMap)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&values, "values", "", "initial values as JSON, @file or - for stdin")
	return cmd
}

func newUpdateCommand(cfg *cliConfig) *cobra.Command {
	var values string
	cmd := &cobra.Command{
		Use:   "update <node-id> <category-id>",
		Short: "Update category attribute values on a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, categoryID, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			var valueMap otcs.ValueMap
			if err := readJSONArg(cmd.InOrStdin(), values, &valueMap); err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			result, err := svc.UpdateCategory(cmd.Context(), nodeID, categoryID, valueMap)
			if result != nil {
				if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&values, "values", "", "values as JSON, @file or - for stdin")
	_ = cmd.MarkFlagRequired("values")
	return cmd
}

func newRemoveCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <node-id> <category-id>",
		Short: "Remove a category from a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, categoryID, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			return svc.RemoveCategory(cmd.Context(), nodeID, categoryID)
		},
	}
}

func newWorkspaceCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Write metadata across the categories of a business workspace",
	}
	cmd.AddCommand(newWorkspaceUpdateCommand(cfg), newWorkspaceApplyCommand(cfg))
	return cmd
}

func newWorkspaceUpdateCommand(cfg *cliConfig) *cobra.Command {
	var values string
	cmd := &cobra.Command{
		Use:   "update <workspace-id>",
		Short: "Update several categories, keyed by category ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := parseIDArg("workspace-id", args[0])
			if err != nil {
				return err
			}
			var byKey map[string]otcs.ValueMap
			if err := readJSONArg(cmd.InOrStdin(), values, &byKey); err != nil {
				return err
			}
			categories := make(map[int64]otcs.ValueMap, len(byKey))
			for key, valueMap := range byKey {
				id, err := parseIDArg("category id", key)
				if err != nil {
					return err
				}
				categories[id] = valueMap
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			result, err := svc.UpdateWorkspaceMetadata(cmd.Context(), workspaceID, categories)
			return printResult(cmd, result, err)
		},
	}
	cmd.Flags().StringVar(&values, "values", "", `values per category as JSON ({"10":{"2":"x"}}), @file or -`)
	_ = cmd.MarkFlagRequired("values")
	return cmd
}

func newWorkspaceApplyCommand(cfg *cliConfig) *cobra.Command {
	var values string
	cmd := &cobra.Command{
		Use:   "apply <workspace-id>",
		Short: "Set workspace attributes by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := parseIDArg("workspace-id", args[0])
			if err != nil {
				return err
			}
			var valueMap otcs.ValueMap
			if err := readJSONArg(cmd.InOrStdin(), values, &valueMap); err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			result, err := svc.ApplyWorkspaceBusinessProperties(cmd.Context(), workspaceID, valueMap)
			return printResult(cmd, result, err)
		},
	}
	cmd.Flags().StringVar(&values, "values", "", "properties as JSON, @file or - for stdin")
	_ = cmd.MarkFlagRequired("values")
	return cmd
}

func newResolveCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <node-id> [name...]",
		Short: "Print the attribute name index of a node, or resolve the given names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseIDArg("node-id", args[0])
			if err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				idx, err := svc.BuildNameIndex(cmd.Context(), nodeID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), idx)
			}
			names, err := json.Marshal(map[string]any{"node_id": nodeID, "names": args[1:]})
			if err != nil {
				return err
			}
			result, err := factory.NewToolRegistry(svc).Call(cmd.Context(), "otcs_resolve_attribute_names", names)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newToolsCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and call the agent tools",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the tool definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// definitions do not need a server connection
			return printJSON(cmd.OutOrStdout(), factory.NewToolRegistry(nil).List())
		},
	}

	var arguments string
	call := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := readJSONArg(cmd.InOrStdin(), arguments, &raw); err != nil {
				return err
			}
			svc, err := cfg.service()
			if err != nil {
				return err
			}
			result, err := factory.NewToolRegistry(svc).Call(cmd.Context(), args[0], raw)
			return printResult(cmd, result, err)
		},
	}
	call.Flags().StringVar(&arguments, "args", "{}", "tool arguments as JSON, @file or - for stdin")

	cmd.AddCommand(list, call)
	return cmd
}

func parseIDArg(name, value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, value)
	}
	return id, nil
}

func parseIDArgs(args []string) (int64, int64, error) {
	nodeID, err := parseIDArg("node-id", args[0])
	if err != nil {
		return 0, 0, err
	}
	categoryID, err := parseIDArg("category-id", args[1])
	if err != nil {
		return 0, 0, err
	}
	return nodeID, categoryID, nil
}

// readJSONArg decodes value as inline JSON, "@path" as a file, or "-" as stdin.
func readJSONArg(stdin io.Reader, value string, target any) error {
	var data []byte
	var err error
	switch {
	case value == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(value, "@"):
		data, err = os.ReadFile(value[1:])
	default:
		data = []byte(value)
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// printResult prints partial batch results before returning err.
func printResult(cmd *cobra.Command, result any, err error) error {
	if result != nil && !isNilPointer(result) {
		if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
			return printErr
		}
	}
	return err
}

func isNilPointer(v any) bool {
	switch r := v.(type) {
	case *otcs.WorkspaceMetadataResult:
		return r == nil
	case *otcs.CategoryUpdateResult:
		return r == nil
	}
	return false
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
