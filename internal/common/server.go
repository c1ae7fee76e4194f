package common

type Server interface {
	Start() error
	Close() error
	GetRewriter() Rewriter
}
