// Package logx is a thin structured logging layer over zerolog.
//
// It exists so application packages depend on a small, stable API
// (Logger + Field helpers) while sinks and levels stay hot-reloadable
// through Service.Apply.
package logx
