package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NormalizeName strips "_", "-", "/", "(", ")", "." and whitespace, then
// lowercases. It is applied to both index keys and lookups.
func NormalizeName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '_', r == '-', r == '/', r == '(', r == ')', r == '.':
			continue
		case unicode.IsSpace(r):
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// NameResolver builds friendly-name indexes for a node. Indexes are not
// cached: every BuildIndex call fetches the schemas again.
type NameResolver struct {
	transport otcs.Transport
	parallel  int
}

// NewNameResolver creates a resolver that fetches schemas through transport.
// parallel bounds concurrent per-category form fetches; values below 1 mean 1.
func NewNameResolver(transport otcs.Transport, parallel int) *NameResolver {
	if parallel < 1 {
		parallel = 1
	}
	return &NameResolver{transport: transport, parallel: parallel}
}

// BuildIndex indexes every attribute of every category on nodeID. The
// aggregate node form is tried first; if it yields nothing, each category's
// create form is fetched individually and categories whose form cannot be
// fetched are skipped.
func (r *NameResolver) BuildIndex(ctx context.Context, nodeID int64) (otcs.NameIndex, error) {
	idx, err := r.indexFromNodeForm(ctx, nodeID)
	if err != nil {
		zap.S().Debugw("aggregate metadata form unavailable", "nodeID", nodeID, "error", err)
	}
	if len(idx) > 0 {
		return idx, nil
	}
	return r.indexPerCategory(ctx, nodeID)
}

func (r *NameResolver) indexFromNodeForm(ctx context.Context, nodeID int64) (otcs.NameIndex, error) {
	resp, err := fetchForm(ctx, r.transport, nodeFormPath, url.Values{"id": {formatID(nodeID)}})
	if err != nil {
		return nil, err
	}
	idx := make(otcs.NameIndex)
	indexAttributes(idx, "", ExtractAttributes(resp))
	return idx, nil
}

func (r *NameResolver) indexPerCategory(ctx context.Context, nodeID int64) (otcs.NameIndex, error) {
	raw, err := r.transport.Do(ctx, &otcs.Request{Method: "GET", Path: nodeCategoriesPath(nodeID)})
	if err != nil {
		return nil, fmt.Errorf("failed to list categories of node %d: %w", nodeID, err)
	}
	categories, err := DecodeCategories(raw)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(categories))
	for _, category := range categories {
		ids = append(ids, category.ID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	// each goroutine owns one slot; slots are merged in id order so the
	// first registration of a name is deterministic
	partial := make([]otcs.NameIndex, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, categoryID := range ids {
		g.Go(func() error {
			resp, err := fetchForm(gctx, r.transport, categoryCreateFormPath, categoryFormQuery(nodeID, categoryID))
			if err != nil {
				zap.S().Warnw("skipping category in name index", "nodeID", nodeID, "categoryID", categoryID, "error", err)
				return nil
			}
			def := ExtractCategoryDefinition(resp, categoryID)
			slot := make(otcs.NameIndex)
			indexAttributes(slot, formatID(categoryID), def.Attributes)
			partial[i] = slot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := make(otcs.NameIndex)
	for _, slot := range partial {
		for _, name := range sortedKeys(slot) {
			if _, exists := idx[name]; !exists {
				idx[name] = slot[name]
			}
		}
	}
	return idx, nil
}

// indexAttributes registers normalize(name) -> flattened key for attrs and,
// recursively, for set children. A set keyed by a bare numeric id at the
// top level is a category container: its children are indexed under that
// category and the container itself is not registered.
func indexAttributes(idx otcs.NameIndex, categoryID string, attrs []otcs.Attribute) {
	for _, attr := range attrs {
		info := attr.Info()
		set, isSet := attr.(*otcs.SetAttribute)
		if isSet && isDigits(info.Key) && categoryID == "" {
			indexAttributes(idx, info.Key, set.Children)
			continue
		}

		key := qualifyKey(categoryID, info.Key)
		if !isFlattenedKey(key) {
			// not addressable by the write API, e.g. general node properties
			continue
		}
		register(idx, info, key)
		if isSet {
			indexSetChildren(idx, key, set.Children)
		}
	}
}

// indexSetChildren registers set children against the first row of the set.
func indexSetChildren(idx otcs.NameIndex, setKey string, children []otcs.Attribute) {
	for _, child := range children {
		info := child.Info()
		key := setKey + "_1_" + lastSegment(info.Key)
		register(idx, info, key)
		if set, ok := child.(*otcs.SetAttribute); ok {
			indexSetChildren(idx, key, set.Children)
		}
	}
}

// register indexes a titled attribute. Untitled attributes carry their own
// key as name and stay addressable by key only.
func register(idx otcs.NameIndex, info otcs.AttributeInfo, key string) {
	if info.Name == info.Key {
		return
	}
	name := info.Name
	normalized := NormalizeName(name)
	if normalized == "" {
		return
	}
	if existing, ok := idx[normalized]; ok {
		if existing != key {
			zap.S().Debugw("duplicate attribute name, keeping first", "name", name, "kept", existing, "ignored", key)
		}
		return
	}
	idx[normalized] = key
}

// NeedsResolution reports whether any key of values is not positional.
func NeedsResolution(values otcs.ValueMap) bool {
	for key := range values {
		if !isPositionalKey(key) {
			return true
		}
	}
	return false
}

// Resolve returns the flattened key registered for a friendly name.
func Resolve(idx otcs.NameIndex, friendlyName string) (string, bool) {
	return idx.Lookup(NormalizeName(friendlyName))
}

// ResolveValues rewrites friendly-name keys of values to keys the encoder
// accepts for categoryID. Positional keys pass through. Names that match
// nothing, or match an attribute of another category, are returned as
// skipped.
func ResolveValues(idx otcs.NameIndex, categoryID int64, values otcs.ValueMap) (otcs.ValueMap, []otcs.SkippedKey) {
	resolved := make(otcs.ValueMap, len(values))
	var skipped []otcs.SkippedKey

	for _, key := range sortedKeys(values) {
		value := values[key]
		if isPositionalKey(key) {
			resolved[key] = value
			continue
		}

		fullKey, ok := Resolve(idx, key)
		if !ok {
			skipped = append(skipped, otcs.SkippedKey{Key: key, Reason: "no attribute matches this name"})
			continue
		}
		owner, _ := categoryPrefix(fullKey)
		if owner != categoryID {
			skipped = append(skipped, otcs.SkippedKey{
				Key:    key,
				Reason: fmt.Sprintf("attribute %s belongs to category %d", fullKey, owner),
			})
			continue
		}

		local := localKey(fullKey)
		if _, exists := resolved[local]; exists {
			skipped = append(skipped, otcs.SkippedKey{Key: key, Reason: "attribute " + fullKey + " is already set"})
			continue
		}
		resolved[local] = value
	}
	return resolved, skipped
}

// localKey strips the category prefix from a "{cat}_{attr}" key so the
// encoder can prefix it again and expand row values. Deeper keys are kept
// whole and written as given.
func localKey(fullKey string) string {
	if strings.Count(fullKey, "_") == 1 {
		return lastSegment(fullKey)
	}
	return fullKey
}

func fetchForm(ctx context.Context, transport otcs.Transport, path string, query url.Values) (*otcs.FormResponse, error) {
	raw, err := transport.Do(ctx, &otcs.Request{Method: "GET", Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	var resp otcs.FormResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, otcs.NewInvalidResponseError("form response could not be decoded", err).
			WithDetail("path", path)
	}
	return &resp, nil
}
