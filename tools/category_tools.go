package tools

import (
	"context"
	"strconv"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"github.com/pneumacap/otcs-mcp-sub000/internal"
)

type nodeArgs struct {
	NodeID int64 `json:"node_id" jsonschema:"description=ID of the node (document or folder or workspace)"`
}

type categoryArgs struct {
	NodeID     int64 `json:"node_id" jsonschema:"description=ID of the node"`
	CategoryID int64 `json:"category_id" jsonschema:"description=ID of the category"`
}

type categoryFormArgs struct {
	NodeID     int64  `json:"node_id" jsonschema:"description=ID of the node"`
	CategoryID int64  `json:"category_id" jsonschema:"description=ID of the category"`
	Mode       string `json:"mode,omitempty" jsonschema:"enum=create,enum=update,default=update,description=Form used to read the schema"`
}

type categoryValuesArgs struct {
	NodeID     int64         `json:"node_id" jsonschema:"description=ID of the node"`
	CategoryID int64         `json:"category_id" jsonschema:"description=ID of the category"`
	Values     otcs.ValueMap `json:"values,omitempty" jsonschema:"description=Attribute values keyed by attribute key or attribute name"`
}

type workspaceMetadataArgs struct {
	WorkspaceID int64                    `json:"workspace_id" jsonschema:"description=ID of the business workspace"`
	Categories  map[string]otcs.ValueMap `json:"categories" jsonschema:"description=Attribute values per category ID"`
}

type businessPropertiesArgs struct {
	WorkspaceID int64         `json:"workspace_id" jsonschema:"description=ID of the business workspace"`
	Properties  otcs.ValueMap `json:"properties" jsonschema:"description=Values keyed by attribute name or flattened attribute key"`
}

type resolveNamesArgs struct {
	NodeID int64    `json:"node_id" jsonschema:"description=ID of the node"`
	Names  []string `json:"names" jsonschema:"minItems=1,description=Attribute names to look up"`
}

// CategoryFormResult is returned by otcs_get_category_form.
type CategoryFormResult struct {
	Definition   *otcs.CategoryDefinition `json:"definition"`
	ValuesSchema any                      `json:"values_schema"`
}

// ResolveNamesResult is returned by otcs_resolve_attribute_names.
type ResolveNamesResult struct {
	Resolved   map[string]string `json:"resolved"`
	Unresolved []string          `json:"unresolved"`
}

// CategoryTools returns the category tools backed by svc.
func CategoryTools(svc otcs.CategoryService) []Tool {
	return []Tool{
		NewTool("otcs_get_categories",
			"List the categories applied to a node with their attribute values.",
			func(ctx context.Context, args nodeArgs) (any, error) {
				if err := requireID("node_id", args.NodeID); err != nil {
					return nil, err
				}
				return svc.GetCategories(ctx, args.NodeID)
			}),

		NewTool("otcs_get_category",
			"Get one category of a node with its attribute values.",
			func(ctx context.Context, args categoryArgs) (any, error) {
				if err := requireIDs(args.NodeID, args.CategoryID); err != nil {
					return nil, err
				}
				category, err := svc.GetCategory(ctx, args.NodeID, args.CategoryID)
				if err != nil {
					return nil, err
				}
				if category == nil {
					return nil, otcs.NewOTCSError(otcs.ErrorTypeNotFound, otcs.ErrCodeCategoryNotFound, "category is not applied to the node").
						WithNode(args.NodeID).WithCategory(args.CategoryID)
				}
				return category, nil
			}),

		NewTool("otcs_get_category_form",
			"Get the attribute schema of a category, including nested sets, and a JSON Schema for its values.",
			func(ctx context.Context, args categoryFormArgs) (any, error) {
				if err := requireIDs(args.NodeID, args.CategoryID); err != nil {
					return nil, err
				}
				var def *otcs.CategoryDefinition
				var err error
				switch args.Mode {
				case "create":
					def, err = svc.GetCategoryCreateForm(ctx, args.NodeID, args.CategoryID)
				case "", "update":
					def, err = svc.GetCategoryUpdateForm(ctx, args.NodeID, args.CategoryID)
				default:
					return nil, otcs.NewValidationError("mode", "must be create or update")
				}
				if err != nil {
					return nil, err
				}
				return &CategoryFormResult{Definition: def, ValuesSchema: CategoryValuesSchema(def)}, nil
			}),

		NewTool("otcs_add_category",
			"Apply a category to a node, optionally setting attribute values.",
			func(ctx context.Context, args categoryValuesArgs) (any, error) {
				if err := requireIDs(args.NodeID, args.CategoryID); err != nil {
					return nil, err
				}
				return svc.AddCategory(ctx, args.NodeID, args.CategoryID, args.Values)
			}),

		NewTool("otcs_update_category",
			"Update attribute values of a category on a node. Set rows may be given as an array (rows numbered from 1) or as an object keyed by row index.",
			func(ctx context.Context, args categoryValuesArgs) (any, error) {
				if err := requireIDs(args.NodeID, args.CategoryID); err != nil {
					return nil, err
				}
				if len(args.Values) == 0 {
					return nil, otcs.NewValidationError("values", "at least one value is required")
				}
				return svc.UpdateCategory(ctx, args.NodeID, args.CategoryID, args.Values)
			}),

		NewTool("otcs_remove_category",
			"Remove a category from a node.",
			func(ctx context.Context, args categoryArgs) (any, error) {
				if err := requireIDs(args.NodeID, args.CategoryID); err != nil {
					return nil, err
				}
				if err := svc.RemoveCategory(ctx, args.NodeID, args.CategoryID); err != nil {
					return nil, err
				}
				return map[string]any{"removed": true, "node_id": args.NodeID, "category_id": args.CategoryID}, nil
			}),

		NewTool("otcs_update_workspace_metadata",
			"Update several categories of a business workspace. Each category is written independently.",
			func(ctx context.Context, args workspaceMetadataArgs) (any, error) {
				if err := requireID("workspace_id", args.WorkspaceID); err != nil {
					return nil, err
				}
				categories := make(map[int64]otcs.ValueMap, len(args.Categories))
				for key, values := range args.Categories {
					id, err := strconv.ParseInt(key, 10, 64)
					if err != nil || id <= 0 {
						return nil, otcs.NewValidationError("categories", "category key "+strconv.Quote(key)+" is not a category ID")
					}
					categories[id] = values
				}
				return svc.UpdateWorkspaceMetadata(ctx, args.WorkspaceID, categories)
			}),

		NewTool("otcs_apply_business_properties",
			"Set workspace attributes by name across all of its categories.",
			func(ctx context.Context, args businessPropertiesArgs) (any, error) {
				if err := requireID("workspace_id", args.WorkspaceID); err != nil {
					return nil, err
				}
				if len(args.Properties) == 0 {
					return nil, otcs.NewValidationError("properties", "at least one property is required")
				}
				return svc.ApplyWorkspaceBusinessProperties(ctx, args.WorkspaceID, args.Properties)
			}),

		NewTool("otcs_resolve_attribute_names",
			"Look up the attribute keys behind human-readable attribute names on a node.",
			func(ctx context.Context, args resolveNamesArgs) (any, error) {
				if err := requireID("node_id", args.NodeID); err != nil {
					return nil, err
				}
				idx, err := svc.BuildNameIndex(ctx, args.NodeID)
				if err != nil {
					return nil, err
				}
				result := &ResolveNamesResult{Resolved: make(map[string]string), Unresolved: make([]string, 0)}
				for _, name := range args.Names {
					if key, ok := internal.Resolve(idx, name); ok {
						result.Resolved[name] = key
					} else {
						result.Unresolved = append(result.Unresolved, name)
					}
				}
				return result, nil
			}),
	}
}

func requireID(field string, id int64) error {
	if id <= 0 {
		return otcs.NewValidationError(field, "must be a positive ID")
	}
	return nil
}

func requireIDs(nodeID, categoryID int64) error {
	if err := requireID("node_id", nodeID); err != nil {
		return err
	}
	return requireID("category_id", categoryID)
}
