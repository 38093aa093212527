// ABOUTME: Transcript export for the operator inbox
// ABOUTME: Writes an xlsx workbook with an inbox summary sheet and a messages sheet

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/xuri/excelize/v2"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

const (
	inboxSheet    = "Conversations"
	messagesSheet = "Messages"
)

func runExport(ctx context.Context, args []string) error {
	flags, rf := newRemoteFlagSet("export")
	out := flags.String("out", "parley-transcripts.xlsx", "output workbook path")
	if err := flags.Parse(args); err != nil {
		return err
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}

	convs, err := r.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	transcripts := make(map[string][]*store.Message, len(convs))
	for _, c := range convs {
		msgs, err := r.api.History(ctx, r.operatorID, c.CounterpartID)
		if err != nil {
			return fmt.Errorf("loading history with %s: %w", c.CounterpartID, err)
		}
		transcripts[c.CounterpartID] = msgs
	}

	f, err := buildWorkbook(convs, transcripts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(*out); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Exported %d conversation(s) to %s\n", len(convs), *out)
	return nil
}

// buildWorkbook lays out the inbox in convs order and every transcript
// oldest first beneath it.
func buildWorkbook(convs []conversation.Conversation, transcripts map[string][]*store.Message) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(inboxSheet)
	if err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	if _, err := f.NewSheet(messagesSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	inbox := [][]any{{"Counterpart", "Unread", "Last Activity", "Last Message"}}
	for _, c := range convs {
		inbox = append(inbox, []any{c.CounterpartID, c.UnreadCount, c.LastMessageTime.UTC().Format(time.RFC3339), c.LastMessage})
	}
	if err := writeRows(f, inboxSheet, inbox, header); err != nil {
		return nil, err
	}

	messages := [][]any{{"Counterpart", "Sent At", "Sender", "Receiver", "Content", "Read"}}
	for _, c := range convs {
		for _, m := range transcripts[c.CounterpartID] {
			messages = append(messages, []any{
				c.CounterpartID,
				m.CreatedAt.UTC().Format(time.RFC3339Nano),
				m.SenderID,
				m.ReceiverID,
				m.Content,
				m.IsRead,
			})
		}
	}
	if err := writeRows(f, messagesSheet, messages, header); err != nil {
		return nil, err
	}

	return f, nil
}

// writeRows writes rows starting at A1 and bolds the first one.
func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	return nil
}
