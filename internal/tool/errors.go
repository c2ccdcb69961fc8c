package tool

import "errors"

var (
	// ErrToolNotFound is returned when a tool number is not in the catalogue.
	ErrToolNotFound = errors.New("tool: not found")

	// ErrToolExists is returned when a tool number is already in the catalogue.
	ErrToolExists = errors.New("tool: number already exists")

	// ErrInvalidTool is returned when a tool fails validation.
	ErrInvalidTool = errors.New("tool: invalid tool")
)
