package common

import "github.com/sunbk201/httpmod/internal/config"

type Direction = config.Direction

const (
	DirectionDual     = config.DirectionDual
	DirectionRequest  = config.DirectionRequest
	DirectionResponse = config.DirectionResponse
)

// Covers reports whether a rule declared for ruleDir runs on an exchange
// flowing in dir.
func Covers(ruleDir, dir Direction) bool {
	return ruleDir == DirectionDual || ruleDir == dir
}
