package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goatkit/ticketforge/internal/convert"
	"github.com/goatkit/ticketforge/internal/models"
)

// ParseTickets decodes a tracker export. Only a top-level array is accepted;
// any other JSON document yields no tickets. Items that are not objects or
// lack a usable jiraId are skipped.
func ParseTickets(raw []byte) ([]models.ExternalTicket, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("tracker: decoding ticket export: %w", err)
	}

	items, ok := doc.([]any)
	if !ok {
		return []models.ExternalTicket{}, nil
	}

	tickets := make([]models.ExternalTicket, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := strings.TrimSpace(convert.ToString(obj["jiraId"], ""))
		if id == "" {
			continue
		}
		tickets = append(tickets, models.ExternalTicket{
			ExternalID:  id,
			Title:       convert.ToString(obj["jiraTitle"], ""),
			Description: convert.ToString(obj["jiraDescription"], ""),
		})
	}
	return tickets, nil
}
