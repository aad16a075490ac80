package model

import "errors"

// ErrInvalidAddress and ErrInvalidTopic are configuration-class failures:
// malformed hex in a manifest is a fatal startup bug, never a runtime retry
// condition.
var (
	ErrInvalidAddress = errors.New("model: invalid contract address")
	ErrInvalidTopic   = errors.New("model: invalid topic id")
)
