package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/erpai-decision-prototype/internal/audit"
)

// WriteBatch пишет пачку событий журнала одним Bulk Insert.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице decision_journal
	numFields := 13
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13)

		vals = append(vals,
			e.ID, e.ConversationID, e.AgentRole, e.RequestType, e.Urgency, e.Severity,
			e.Status, e.Resolution, e.Summary, e.RecommendedAction, e.Error,
			e.Timestamp, e.DurationMs,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO decision_journal (id, conversation_id, agent_role, request_type, urgency, severity, status, resolution, summary, recommended_action, error, timestamp, duration_ms) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
