package rpc

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/racefetch/internal/core/domain"
)

// Query builds an encoded API query string. Range filters put the
// operator inside the key (date>2023-...), which url.Values cannot
// express, so parts are encoded individually and kept in order.
type Query struct {
	parts []string
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{}
}

// Eq adds an equality filter field=value.
func (q *Query) Eq(field, value string) *Query {
	q.parts = append(q.parts, url.QueryEscape(field)+"="+url.QueryEscape(value))
	return q
}

// EqInt adds an integer equality filter.
func (q *Query) EqInt(field string, value int) *Query {
	return q.Eq(field, strconv.Itoa(value))
}

// Gt adds a strict lower bound on a timestamp field.
func (q *Query) Gt(field string, t time.Time) *Query {
	return q.rng(field, ">", t)
}

// Lt adds a strict upper bound on a timestamp field.
func (q *Query) Lt(field string, t time.Time) *Query {
	return q.rng(field, "<", t)
}

func (q *Query) rng(field, op string, t time.Time) *Query {
	q.parts = append(q.parts, url.QueryEscape(field+op)+url.QueryEscape(domain.FormatTimestamp(t)))
	return q
}

// Encode returns the query string without the leading '?'.
func (q *Query) Encode() string {
	return strings.Join(q.parts, "&")
}
