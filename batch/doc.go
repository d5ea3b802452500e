// Package batch runs the align, fit and correct pipeline over many
// quasars concurrently. Jobs are independent; a failed job is recorded in
// its Outcome and never stops the others.
package batch
