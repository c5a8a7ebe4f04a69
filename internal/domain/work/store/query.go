// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// CompareOp is a relational operator accepted by the read model.
type CompareOp string

const (
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
)

// Compare is one relational predicate on a numeric or timestamp field.
type Compare struct {
	Field string // priority | created_at | last_transition_at | applied_at | completed_at
	Op    CompareOp
	Value any // int for priority, time.Time for timestamps
}

// OrderQuery is the read-model filter/sort/page request.
type OrderQuery struct {
	ID                string
	State             model.OrderState
	Type              string
	RequestedByKind   model.ActorKind
	RequestedByID     string
	ItemState         model.ItemState
	Compares          []Compare
	MetaContains      map[string]string
	HasAvailableItems *bool
	SortField         string // any Compare field, or items_count
	SortDesc          bool
	Page              int // 1-based
	PageSize          int
}

// OrderPage is one page of the read model.
type OrderPage struct {
	Orders     []*model.Order `json:"orders"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalCount int            `json:"totalCount"`
}

var queryColumns = map[string]string{
	"priority":           "o.priority",
	"created_at":         "o.created_at_ms",
	"last_transition_at": "o.last_transition_at_ms",
	"applied_at":         "o.applied_at_ms",
	"completed_at":       "o.completed_at_ms",
}

// ListOrders executes the read model query. Default sort is priority DESC,
// created_at ASC; default page size and the hard cap come from the caller's
// config and are clamped here as a safety net.
func (s *Store) ListOrders(ctx context.Context, qry OrderQuery, defaultPageSize, maxPageSize int, now time.Time) (*OrderPage, error) {
	if qry.PageSize <= 0 {
		qry.PageSize = defaultPageSize
	}
	if qry.PageSize > maxPageSize {
		qry.PageSize = maxPageSize
	}
	if qry.Page <= 0 {
		qry.Page = 1
	}

	var where strings.Builder
	where.WriteString(" WHERE 1=1")
	var args []any

	addEq := func(col string, v any, empty bool) {
		if empty {
			return
		}
		where.WriteString(" AND " + col + " = ?")
		args = append(args, v)
	}
	addEq("o.id", qry.ID, qry.ID == "")
	addEq("o.state", qry.State, qry.State == "")
	addEq("o.type", qry.Type, qry.Type == "")
	addEq("o.requested_by_kind", qry.RequestedByKind, qry.RequestedByKind == "")
	addEq("o.requested_by_id", qry.RequestedByID, qry.RequestedByID == "")

	if qry.ItemState != "" {
		where.WriteString(" AND EXISTS (SELECT 1 FROM work_items i WHERE i.order_id = o.id AND i.state = ?)")
		args = append(args, qry.ItemState)
	}

	for _, c := range qry.Compares {
		col, ok := queryColumns[c.Field]
		if !ok {
			return nil, fmt.Errorf("query: unsupported compare field %q", c.Field)
		}
		switch c.Op {
		case OpGT, OpGTE, OpLT, OpLTE:
		default:
			return nil, fmt.Errorf("query: unsupported operator %q", c.Op)
		}
		where.WriteString(" AND " + col + " " + string(c.Op) + " ?")
		switch v := c.Value.(type) {
		case time.Time:
			args = append(args, v.UnixMilli())
		default:
			args = append(args, v)
		}
	}

	for k, v := range qry.MetaContains {
		where.WriteString(" AND json_extract(o.meta_json, '$.' || ?) = ?")
		args = append(args, k, v)
	}

	if qry.HasAvailableItems != nil {
		clause := ` EXISTS (
			SELECT 1 FROM work_items i
			WHERE i.order_id = o.id AND i.state = ?
			  AND (i.lease_expires_at_ms IS NULL OR i.lease_expires_at_ms <= ?))`
		if *qry.HasAvailableItems {
			where.WriteString(" AND" + clause)
		} else {
			where.WriteString(" AND NOT" + clause)
		}
		args = append(args, model.ItemQueued, now.UnixMilli())
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM work_orders o` + where.String()
	if err := s.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	orderBy := " ORDER BY o.priority DESC, o.created_at_ms ASC"
	if qry.SortField != "" {
		dir := " ASC"
		if qry.SortDesc {
			dir = " DESC"
		}
		if qry.SortField == "items_count" {
			orderBy = " ORDER BY (SELECT COUNT(*) FROM work_items i WHERE i.order_id = o.id)" + dir
		} else if col, ok := queryColumns[qry.SortField]; ok {
			orderBy = " ORDER BY " + col + dir
		} else {
			return nil, fmt.Errorf("query: unsupported sort field %q", qry.SortField)
		}
	}

	listQuery := `SELECT ` + prefixedOrderColumns + ` FROM work_orders o` +
		where.String() + orderBy + ` LIMIT ? OFFSET ?`
	args = append(args, qry.PageSize, (qry.Page-1)*qry.PageSize)

	rows, err := s.DB.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &OrderPage{Orders: orders, Page: qry.Page, PageSize: qry.PageSize, TotalCount: total}, nil
}

const prefixedOrderColumns = `o.id, o.type, o.state, o.priority, o.payload_json, o.meta_json,
	o.requested_by_kind, o.requested_by_id, o.created_at_ms, o.last_transition_at_ms,
	o.applied_at_ms, o.completed_at_ms`
