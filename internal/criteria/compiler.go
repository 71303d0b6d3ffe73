// Package criteria compiles user-authored criteria trees into predicates over
// contacts. The same compiled predicate drives segment validation, previews
// and dispatch targeting: it evaluates in memory (Match) and renders as a
// MongoDB filter (Filter).
package criteria

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"broadcast-engine/internal/apperrors"
	"broadcast-engine/internal/models"

	"go.mongodb.org/mongo-driver/bson"
)

// Op is a rule operator.
type Op string

const (
	OpEq        Op = "eq"
	OpNeq       Op = "neq"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpIn        Op = "in"
	OpNin       Op = "nin"
	OpContains  Op = "contains"
	OpHas       Op = "has"
	OpIsNull    Op = "isNull"
	OpIsNotNull Op = "isNotNull"
)

var operators = map[Op]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpContains: true, OpHas: true, OpIsNull: true, OpIsNotNull: true,
}

const (
	logicAnd = "AND"
	logicOr  = "OR"
)

// Limits on tree shape.
const (
	MaxDepth = 5
	MaxRules = 100
)

// Predicate is a compiled criteria tree.
type Predicate struct {
	root   node
	filter bson.M
}

// Match evaluates the predicate against a contact.
func (p *Predicate) Match(c *models.Contact) bool {
	return p.root.match(c)
}

// Filter returns the equivalent MongoDB filter document.
func (p *Predicate) Filter() bson.M {
	return p.filter
}

// MatchesAll reports whether the predicate has no constraints.
func (p *Predicate) MatchesAll() bool {
	_, ok := p.root.(matchAll)
	return ok
}

type node interface {
	match(c *models.Contact) bool
	filter() bson.M
}

type matchAll struct{}

func (matchAll) match(*models.Contact) bool { return true }
func (matchAll) filter() bson.M             { return bson.M{} }

type groupNode struct {
	Logic    string
	Children []node
}

func (g groupNode) match(c *models.Contact) bool {
	if g.Logic == logicOr {
		for _, child := range g.Children {
			if child.match(c) {
				return true
			}
		}
		return false
	}
	for _, child := range g.Children {
		if !child.match(c) {
			return false
		}
	}
	return true
}

func (g groupNode) filter() bson.M {
	parts := make([]bson.M, 0, len(g.Children))
	for _, child := range g.Children {
		parts = append(parts, child.filter())
	}
	if g.Logic == logicOr {
		return bson.M{"$or": parts}
	}
	return bson.M{"$and": parts}
}

// Compile validates and compiles a criteria tree. Any disallowed field,
// unknown operator or uncoercible value fails the whole tree with a
// validation error; nothing is evaluated partially. An empty tree matches
// every contact.
func Compile(tree models.CriteriaTree) (*Predicate, error) {
	c := &compiler{}
	root, err := c.group(tree, 1)
	if err != nil {
		return nil, err
	}
	return &Predicate{root: root, filter: root.filter()}, nil
}

// CompileAudience compiles tree restricted to contacts that can be messaged:
// ACTIVE lifecycle status and opted in.
func CompileAudience(tree models.CriteriaTree) (*Predicate, error) {
	c := &compiler{}
	inner, err := c.group(tree, 1)
	if err != nil {
		return nil, err
	}
	children := make([]node, 0, 3)
	for _, r := range []models.CriteriaRule{
		{Field: "status", Op: string(OpEq), Value: string(models.ContactActive)},
		{Field: "optIn", Op: string(OpEq), Value: true},
	} {
		n, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if _, all := inner.(matchAll); !all {
		children = append(children, inner)
	}
	root := groupNode{Logic: logicAnd, Children: children}
	return &Predicate{root: root, filter: root.filter()}, nil
}

// Validate compiles tree and discards the result.
func Validate(tree models.CriteriaTree) error {
	_, err := Compile(tree)
	return err
}

// ParseTree decodes a JSON criteria tree, rejecting unknown keys.
func ParseTree(data []byte) (models.CriteriaTree, error) {
	var tree models.CriteriaTree
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tree); err != nil {
		return tree, apperrors.New(apperrors.KindValidation, "invalid criteria tree", err)
	}
	return tree, nil
}

type compiler struct {
	rules int
}

func (c *compiler) group(tree models.CriteriaTree, depth int) (node, error) {
	if depth > MaxDepth {
		return nil, apperrors.Validation("criteria nesting exceeds %d levels", MaxDepth)
	}
	logic, err := normalizeLogic(tree.Operator)
	if err != nil {
		return nil, err
	}
	if tree.IsEmpty() {
		return matchAll{}, nil
	}

	children := make([]node, 0, len(tree.Rules)+len(tree.Groups))
	for i, r := range tree.Rules {
		c.rules++
		if c.rules > MaxRules {
			return nil, apperrors.Validation("criteria exceed %d rules", MaxRules)
		}
		n, err := compileRule(r)
		if err != nil {
			return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("rule %d", i), err)
		}
		children = append(children, n)
	}
	for _, g := range tree.Groups {
		n, err := c.group(g, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	return groupNode{Logic: logic, Children: children}, nil
}

func normalizeLogic(op string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "", logicAnd:
		return logicAnd, nil
	case logicOr:
		return logicOr, nil
	}
	return "", apperrors.Validation("group operator %q is not supported", op)
}
