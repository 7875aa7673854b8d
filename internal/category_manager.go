package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

const (
	nodeFormPath           = "/v1/forms/nodes/update"
	categoryCreateFormPath = "/v1/forms/nodes/categories/create"
	categoryUpdateFormPath = "/v1/forms/nodes/categories/update"
)

func nodeCategoriesPath(nodeID int64) string {
	return fmt.Sprintf("/v2/nodes/%d/categories", nodeID)
}

func nodeCategoryPath(nodeID, categoryID int64) string {
	return fmt.Sprintf("/v2/nodes/%d/categories/%d", nodeID, categoryID)
}

func categoryFormQuery(nodeID, categoryID int64) url.Values {
	return url.Values{
		"id":          {formatID(nodeID)},
		"category_id": {formatID(categoryID)},
	}
}

type categoryManager struct {
	transport otcs.Transport
	resolver  *NameResolver
	config    *otcs.Config
}

// NewCategoryManager creates a CategoryService on top of transport
func NewCategoryManager(transport otcs.Transport, config *otcs.Config) otcs.CategoryService {
	if config == nil {
		config = otcs.DefaultConfig()
	}
	return &categoryManager{
		transport: transport,
		resolver:  NewNameResolver(transport, config.Resolver.ParallelFetches),
		config:    config,
	}
}

// GetCategories returns the categories applied to a node with their values
func (cm *categoryManager) GetCategories(ctx context.Context, nodeID int64) ([]otcs.CategoryWithValues, error) {
	raw, err := cm.transport.Do(ctx, &otcs.Request{Method: http.MethodGet, Path: nodeCategoriesPath(nodeID)})
	if err != nil {
		return nil, fmt.Errorf("failed to get categories of node %d: %w", nodeID, err)
	}
	return DecodeCategories(raw)
}

// GetCategory returns one category of a node, or nil when the node does not carry it
func (cm *categoryManager) GetCategory(ctx context.Context, nodeID, categoryID int64) (*otcs.CategoryWithValues, error) {
	raw, err := cm.transport.Do(ctx, &otcs.Request{Method: http.MethodGet, Path: nodeCategoryPath(nodeID, categoryID)})
	if err != nil {
		if otcs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get category %d of node %d: %w", categoryID, nodeID, err)
	}
	return DecodeCategory(raw)
}

// AddCategory applies a category to a node, optionally with initial values
func (cm *categoryManager) AddCategory(ctx context.Context, nodeID, categoryID int64, values otcs.ValueMap) (*otcs.CategoryUpdateResult, error) {
	// the node does not carry the category yet, so names resolve against its create form
	index := newLazyIndex(func() (otcs.NameIndex, error) {
		def, err := cm.GetCategoryCreateForm(ctx, nodeID, categoryID)
		if err != nil {
			return nil, err
		}
		idx := make(otcs.NameIndex)
		indexAttributes(idx, formatID(categoryID), def.Attributes)
		return idx, nil
	})

	leading := otcs.FlatPairs{{Key: "category_id", Value: formatID(categoryID)}}
	return cm.writeCategory(ctx, http.MethodPost, nodeCategoriesPath(nodeID), leading, nodeID, categoryID, values, index)
}

// UpdateCategory writes attribute values of a category already applied to a node
func (cm *categoryManager) UpdateCategory(ctx context.Context, nodeID, categoryID int64, values otcs.ValueMap) (*otcs.CategoryUpdateResult, error) {
	return cm.updateCategory(ctx, nodeID, categoryID, values, cm.nodeIndex(ctx, nodeID))
}

func (cm *categoryManager) updateCategory(ctx context.Context, nodeID, categoryID int64, values otcs.ValueMap, index *lazyIndex) (*otcs.CategoryUpdateResult, error) {
	return cm.writeCategory(ctx, http.MethodPut, nodeCategoryPath(nodeID, categoryID), nil, nodeID, categoryID, values, index)
}

// RemoveCategory removes a category from a node
func (cm *categoryManager) RemoveCategory(ctx context.Context, nodeID, categoryID int64) error {
	if _, err := cm.transport.Do(ctx, &otcs.Request{Method: http.MethodDelete, Path: nodeCategoryPath(nodeID, categoryID)}); err != nil {
		return fmt.Errorf("failed to remove category %d from node %d: %w", categoryID, nodeID, err)
	}
	zap.S().Debugw("category removed", "nodeID", nodeID, "categoryID", categoryID)
	return nil
}

// GetCategoryCreateForm returns the schema used to apply a category to a node
func (cm *categoryManager) GetCategoryCreateForm(ctx context.Context, nodeID, categoryID int64) (*otcs.CategoryDefinition, error) {
	return cm.categoryForm(ctx, categoryCreateFormPath, nodeID, categoryID)
}

// GetCategoryUpdateForm returns the schema of a category already applied to a node
func (cm *categoryManager) GetCategoryUpdateForm(ctx context.Context, nodeID, categoryID int64) (*otcs.CategoryDefinition, error) {
	return cm.categoryForm(ctx, categoryUpdateFormPath, nodeID, categoryID)
}

func (cm *categoryManager) categoryForm(ctx context.Context, path string, nodeID, categoryID int64) (*otcs.CategoryDefinition, error) {
	resp, err := fetchForm(ctx, cm.transport, path, categoryFormQuery(nodeID, categoryID))
	if err != nil {
		return nil, fmt.Errorf("failed to get form for category %d on node %d: %w", categoryID, nodeID, err)
	}
	if len(resp.Forms) == 0 {
		return nil, otcs.NewOTCSError(otcs.ErrorTypeNotFound, otcs.ErrCodeCategoryNotFound, "no form returned for category").
			WithNode(nodeID).WithCategory(categoryID)
	}
	def := ExtractCategoryDefinition(resp, categoryID)

	var total, sets int
	otcs.Walk(def.Attributes, func(attr otcs.Attribute, _ *otcs.SetAttribute) bool {
		total++
		if _, ok := attr.(*otcs.SetAttribute); ok {
			sets++
		}
		return true
	})
	zap.S().Debugw("category form extracted", "nodeID", nodeID, "categoryID", categoryID,
		"path", path, "attributeCount", total, "setCount", sets)
	return def, nil
}

// GetNodeAttributeSchema returns the attribute trees of every category on a node
func (cm *categoryManager) GetNodeAttributeSchema(ctx context.Context, nodeID int64) ([]otcs.Attribute, error) {
	resp, err := fetchForm(ctx, cm.transport, nodeFormPath, url.Values{"id": {formatID(nodeID)}})
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata form of node %d: %w", nodeID, err)
	}
	return ExtractAttributes(resp), nil
}

// BuildNameIndex builds the friendly-name index of a node
func (cm *categoryManager) BuildNameIndex(ctx context.Context, nodeID int64) (otcs.NameIndex, error) {
	return cm.resolver.BuildIndex(ctx, nodeID)
}

func (cm *categoryManager) nodeIndex(ctx context.Context, nodeID int64) *lazyIndex {
	return newLazyIndex(func() (otcs.NameIndex, error) {
		return cm.resolver.BuildIndex(ctx, nodeID)
	})
}

// writeCategory resolves friendly names, encodes values and sends one write.
func (cm *categoryManager) writeCategory(
	ctx context.Context,
	method, path string,
	leading otcs.FlatPairs,
	nodeID, categoryID int64,
	values otcs.ValueMap,
	index *lazyIndex,
) (*otcs.CategoryUpdateResult, error) {
	result := &otcs.CategoryUpdateResult{
		NodeID:     nodeID,
		CategoryID: categoryID,
		Applied:    make([]string, 0),
	}

	if NeedsResolution(values) {
		idx, err := index.get()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve attribute names for category %d: %w", categoryID, err)
		}
		values, result.Skipped = ResolveValues(idx, categoryID, values)
	}

	pairs, warnings := EncodeValues(values, categoryID)
	result.Warnings = warnings

	if len(pairs) == 0 {
		if len(result.Skipped) > 0 {
			names := make([]string, 0, len(result.Skipped))
			for _, s := range result.Skipped {
				names = append(names, s.Key)
			}
			return result, otcs.NewUnresolvedAttributeError(names).WithNode(nodeID).WithCategory(categoryID)
		}
		if len(leading) == 0 {
			zap.S().Debugw("nothing to write", "nodeID", nodeID, "categoryID", categoryID)
			return result, nil
		}
	}

	form := make(otcs.FlatPairs, 0, len(leading)+len(pairs))
	form = append(form, leading...)
	form = append(form, pairs...)

	if _, err := cm.transport.Do(ctx, &otcs.Request{Method: method, Path: path, Form: form}); err != nil {
		return nil, fmt.Errorf("failed to write category %d on node %d: %w", categoryID, nodeID, err)
	}

	result.Applied = pairs.Keys()
	zap.S().Debugw("category written", "method", method, "nodeID", nodeID, "categoryID", categoryID,
		"applied", len(result.Applied), "skipped", len(result.Skipped))
	return result, nil
}

// lazyIndex builds a NameIndex on first use and reuses it afterwards.
type lazyIndex struct {
	build func() (otcs.NameIndex, error)
	idx   otcs.NameIndex
	err   error
	done  bool
}

func newLazyIndex(build func() (otcs.NameIndex, error)) *lazyIndex {
	return &lazyIndex{build: build}
}

func (l *lazyIndex) get() (otcs.NameIndex, error) {
	if !l.done {
		l.idx, l.err = l.build()
		l.done = true
	}
	return l.idx, l.err
}
