package caseflow

import "go.jetify.com/typeid"

// NewInterventionID returns a new unique intervention identifier
func NewInterventionID() string {
	id, err := typeid.WithPrefix("intv")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewRunID returns a new unique engine run identifier
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}
