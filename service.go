package otcs

import (
	"context"
	"encoding/json"
	"net/url"
)

// Request is one call to the content server REST API.
type Request struct {
	Method string
	// Path is relative to Config.Server.BaseURL, e.g. "/v2/nodes/123/categories".
	Path  string
	Query url.Values
	// Body is sent as JSON when set.
	Body any
	// Form is sent as application/x-www-form-urlencoded when set. Takes precedence over Body.
	Form FlatPairs
}

// Transport executes requests against the content server and returns the raw JSON response.
type Transport interface {
	Do(ctx context.Context, req *Request) (json.RawMessage, error)
}

// CategoryService provides category read, write and schema operations for nodes
type CategoryService interface {
	// Category values on a node
	GetCategories(ctx context.Context, nodeID int64) ([]CategoryWithValues, error)
	GetCategory(ctx context.Context, nodeID, categoryID int64) (*CategoryWithValues, error)
	AddCategory(ctx context.Context, nodeID, categoryID int64, values ValueMap) (*CategoryUpdateResult, error)
	UpdateCategory(ctx context.Context, nodeID, categoryID int64, values ValueMap) (*CategoryUpdateResult, error)
	RemoveCategory(ctx context.Context, nodeID, categoryID int64) error

	// Schema operations
	GetCategoryCreateForm(ctx context.Context, nodeID, categoryID int64) (*CategoryDefinition, error)
	GetCategoryUpdateForm(ctx context.Context, nodeID, categoryID int64) (*CategoryDefinition, error)
	GetNodeAttributeSchema(ctx context.Context, nodeID int64) ([]Attribute, error)
	BuildNameIndex(ctx context.Context, nodeID int64) (NameIndex, error)

	// Workspace operations spanning several categories
	UpdateWorkspaceMetadata(ctx context.Context, workspaceID int64, categories map[int64]ValueMap) (*WorkspaceMetadataResult, error)
	ApplyWorkspaceBusinessProperties(ctx context.Context, workspaceID int64, values ValueMap) (*WorkspaceMetadataResult, error)
}
