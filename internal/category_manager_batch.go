package internal

import (
	"context"
	"slices"
	"time"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

// UpdateWorkspaceMetadata writes several categories of one workspace. Each
// category is written independently; failures are collected and do not stop
// the remaining categories. It fails only when every category failed.
func (cm *categoryManager) UpdateWorkspaceMetadata(ctx context.Context, workspaceID int64, categories map[int64]otcs.ValueMap) (*otcs.WorkspaceMetadataResult, error) {
	zap.S().Debugw("UpdateWorkspaceMetadata called", "workspaceID", workspaceID, "categoryCount", len(categories))
	return cm.updateWorkspace(ctx, workspaceID, categories, cm.nodeIndex(ctx, workspaceID))
}

// ApplyWorkspaceBusinessProperties writes values addressed by friendly name
// or flattened key across all categories of a workspace. Keys are grouped by
// the category they resolve to; unresolved keys are reported as skipped.
func (cm *categoryManager) ApplyWorkspaceBusinessProperties(ctx context.Context, workspaceID int64, values otcs.ValueMap) (*otcs.WorkspaceMetadataResult, error) {
	zap.S().Debugw("ApplyWorkspaceBusinessProperties called", "workspaceID", workspaceID, "keyCount", len(values))
	index := cm.nodeIndex(ctx, workspaceID)

	var idx otcs.NameIndex
	if NeedsResolution(values) {
		built, err := index.get()
		if err != nil {
			return nil, err
		}
		idx = built
	}

	grouped := make(map[int64]otcs.ValueMap)
	skipped := make([]otcs.SkippedKey, 0)
	assign := func(categoryID int64, key, local string, value any) {
		group := grouped[categoryID]
		if group == nil {
			group = make(otcs.ValueMap)
			grouped[categoryID] = group
		}
		if _, exists := group[local]; exists {
			skipped = append(skipped, otcs.SkippedKey{Key: key, Reason: "attribute is already set by another key"})
			return
		}
		group[local] = value
	}

	for _, key := range sortedKeys(values) {
		value := values[key]
		if isPositionalKey(key) {
			categoryID, ok := categoryPrefix(key)
			if !ok {
				skipped = append(skipped, otcs.SkippedKey{Key: key, Reason: "bare attribute id needs a category prefix"})
				continue
			}
			assign(categoryID, key, key, value)
			continue
		}

		fullKey, ok := Resolve(idx, key)
		if !ok {
			skipped = append(skipped, otcs.SkippedKey{Key: key, Reason: "no attribute matches this name"})
			continue
		}
		categoryID, _ := categoryPrefix(fullKey)
		assign(categoryID, key, localKey(fullKey), value)
	}

	if len(grouped) == 0 {
		result := &otcs.WorkspaceMetadataResult{
			WorkspaceID: workspaceID,
			Updated:     make([]otcs.CategoryUpdateResult, 0),
			Failed:      make([]otcs.CategoryFailure, 0),
			Skipped:     skipped,
		}
		if len(skipped) > 0 {
			names := make([]string, 0, len(skipped))
			for _, s := range skipped {
				names = append(names, s.Key)
			}
			return result, otcs.NewUnresolvedAttributeError(names).WithNode(workspaceID)
		}
		return result, nil
	}

	result, err := cm.updateWorkspace(ctx, workspaceID, grouped, index)
	if result != nil {
		result.Skipped = append(skipped, result.Skipped...)
	}
	return result, err
}

func (cm *categoryManager) updateWorkspace(ctx context.Context, workspaceID int64, categories map[int64]otcs.ValueMap, index *lazyIndex) (*otcs.WorkspaceMetadataResult, error) {
	startTime := time.Now()
	result := &otcs.WorkspaceMetadataResult{
		WorkspaceID: workspaceID,
		Updated:     make([]otcs.CategoryUpdateResult, 0, len(categories)),
		Failed:      make([]otcs.CategoryFailure, 0),
	}

	ids := make([]int64, 0, len(categories))
	for id := range categories {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, categoryID := range ids {
		updated, err := cm.updateCategory(ctx, workspaceID, categoryID, categories[categoryID], index)
		if updated != nil {
			result.Skipped = append(result.Skipped, updated.Skipped...)
		}
		if err != nil {
			zap.S().Warnw("workspace category update failed", "workspaceID", workspaceID, "categoryID", categoryID, "error", err)
			code := otcs.ErrorCode(err)
			if code == "" {
				code = otcs.ErrCodeCategoryUpdateFailed
			}
			result.Failed = append(result.Failed, otcs.CategoryFailure{
				CategoryID: categoryID,
				Error:      err.Error(),
				Code:       code,
			})
			continue
		}
		result.Updated = append(result.Updated, *updated)
	}

	result.Duration = time.Since(startTime).Microseconds()
	EmitCategoryWrites(ctx, workspaceID, len(result.Updated), len(result.Failed))
	zap.S().Debugw("workspace update completed", "workspaceID", workspaceID,
		"updatedCount", len(result.Updated), "failedCount", len(result.Failed), "durationMicroseconds", result.Duration)

	if len(result.Updated) == 0 && len(result.Failed) > 0 {
		return result, otcs.NewBatchUpdateError(workspaceID, result.Failed)
	}
	return result, nil
}
