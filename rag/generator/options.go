package generator

import (
	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
)

type options struct {
	prompt *rag.PromptTemplate
	logger log.Logger
}

// Option configures a generator.
type Option func(*options)

// WithPrompt replaces the default grounding prompt.
func WithPrompt(p *rag.PromptTemplate) Option {
	return func(o *options) {
		if p != nil {
			o.prompt = p
		}
	}
}

// WithLogger sets the generator logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		prompt: rag.DefaultPrompt(),
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
