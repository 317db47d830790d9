package ui

import (
	"fmt"
	"strings"

	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/types"
)

// RenderBoard renders the stage board for one pipeline: a section per
// stage in pipeline order, each listing its items. Empty stages keep
// their header so the pipeline shape stays visible.
func RenderBoard(pipeline string, stages []stage.StageDef, byStage map[string][]types.WorkItem, width int) string {
	if width <= 0 {
		width = 100
	}

	total := 0
	for _, items := range byStage {
		total += len(items)
	}

	var b strings.Builder
	b.WriteString(RenderAccent(pipeline))
	b.WriteString(RenderMuted(" · " + plural(total, "item")))
	b.WriteString("\n")

	for _, def := range stages {
		items := byStage[def.Name]
		b.WriteString("\n")
		b.WriteString(stageStyle(def.Color).Render(def.Name))
		b.WriteString(RenderMuted(fmt.Sprintf(" · %d", len(items))))
		b.WriteString("\n")
		for _, item := range items {
			b.WriteString(renderItemLine(item, width))
		}
	}
	return b.String()
}

func renderItemLine(item types.WorkItem, width int) string {
	var marks string
	if item.Completed {
		marks += " " + RenderPass("✓")
	}
	if item.Pending != nil {
		marks += " " + RenderWarn("*")
	}
	if item.DueAt != nil {
		marks += " " + RenderMuted("due "+item.DueAt.Format("Jan 2"))
	}

	titleWidth := width - len(item.ID) - 20
	return fmt.Sprintf("  %s  %s%s\n", RenderMuted(item.ID), truncate(item.Title, titleWidth), marks)
}

// RenderNotifications renders one line per notification, newest last.
func RenderNotifications(notes []types.Notification) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range notes {
		b.WriteString(RenderNotification(n))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderNotification renders a single notification with its level
// glyph.
func RenderNotification(n types.Notification) string {
	switch n.Level {
	case types.LevelError:
		return fmt.Sprintf("%s %s", RenderFail("✗"), n.Message)
	case types.LevelWarning:
		return fmt.Sprintf("%s %s", RenderWarn("⚠"), n.Message)
	default:
		return fmt.Sprintf("%s %s", RenderAccent("·"), n.Message)
	}
}

// RenderStatus renders the one-line engine status footer.
func RenderStatus(snap types.Snapshot) string {
	parts := []string{renderConnection(snap.Connection)}
	if snap.Stats.PendingQueue > 0 {
		parts = append(parts, RenderWarn(plural(snap.Stats.PendingQueue, "queued change")))
	}
	if snap.Stats.Reconnects > 0 {
		parts = append(parts, RenderMuted(plural(snap.Stats.Reconnects, "reconnect")))
	}
	if snap.Stats.LastSyncAt != nil {
		parts = append(parts, RenderMuted("synced "+snap.Stats.LastSyncAt.Local().Format("15:04:05")))
	}
	return strings.Join(parts, RenderMuted(" · "))
}

func renderConnection(s types.ConnectionState) string {
	switch s {
	case types.ConnOpen:
		return RenderPass("● online")
	case types.ConnReconnecting:
		return RenderWarn("◌ reconnecting")
	case types.ConnConnecting:
		return RenderMuted("◌ connecting")
	default:
		return RenderMuted("○ offline")
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
