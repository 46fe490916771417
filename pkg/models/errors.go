package models

import "errors"

var (
	ErrUnknownNodeKind    = errors.New("unknown node kind")
	ErrConfigKindMismatch = errors.New("config does not match node kind")
	ErrUnknownOperator    = errors.New("unknown guard operator")
	ErrNotComparable      = errors.New("values are not comparable")
)
