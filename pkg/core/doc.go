// Package core provides the domain models and interfaces for the pipeline engine.
//
// It defines Jobs, Stages, Checkpoints and the contracts that storage
// backends, stage executors and resource managers must satisfy. No other
// package in this module is imported by core.
package core
