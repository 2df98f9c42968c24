// Package llm contains adapters for invoking large language models. It
// defines the role-tagged message contract, a role-based model provider and
// the error classifier that decides which invocation failures are retried.
package llm
