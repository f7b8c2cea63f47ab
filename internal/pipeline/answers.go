package pipeline

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// Answers maps a question identifier to the worker's response.
type Answers map[string]any

// xmlTree decodes an XML document into nested maps in which every child
// element appears as a list, even when it occurs once, and text-only
// elements become strings. Attributes are dropped. The root element is the
// single key of the returned map and is not wrapped in a list.
func xmlTree(doc string) (map[string]any, error) {
	type frame struct {
		name     string
		children map[string][]any
		order    []string
		text     strings.Builder
	}

	dec := xml.NewDecoder(strings.NewReader(doc))
	var stack []*frame
	var root map[string]any

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, &frame{name: t.Name.Local, children: map[string][]any{}})

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			var value any
			if len(top.order) == 0 {
				value = strings.TrimSpace(top.text.String())
			} else {
				m := make(map[string]any, len(top.order))
				for _, k := range top.order {
					m[k] = top.children[k]
				}
				value = m
			}

			if len(stack) == 0 {
				root = map[string]any{top.name: value}
				continue
			}
			parent := stack[len(stack)-1]
			if _, seen := parent.children[top.name]; !seen {
				parent.order = append(parent.order, top.name)
			}
			parent.children[top.name] = append(parent.children[top.name], value)
		}
	}

	if len(stack) > 0 {
		return nil, errors.New("unclosed element " + stack[len(stack)-1].name)
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

// Collapse replaces every single-element list with its element, depth
// first. Longer lists are kept with each element collapsed; scalars pass
// through unchanged.
func Collapse(v any) any {
	switch t := v.(type) {
	case []any:
		if len(t) == 1 {
			return Collapse(t[0])
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Collapse(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Collapse(e)
		}
		return out
	default:
		return v
	}
}

// answerFields lists the answer value fields in precedence order.
var answerFields = []string{"FreeText", "SelectionIdentifier", "OtherSelectionText"}

// AnswersFromTree extracts question/answer pairs from a collapsed document.
func AnswersFromTree(doc map[string]any) (Answers, error) {
	var form map[string]any
	switch f := doc["QuestionFormAnswers"].(type) {
	case map[string]any:
		form = f
	case string:
		// element present but empty
		return Answers{}, nil
	default:
		return nil, errors.New("document has no QuestionFormAnswers")
	}

	var list []any
	switch a := form["Answer"].(type) {
	case nil:
		return Answers{}, nil
	case []any:
		list = a
	default:
		list = []any{a}
	}

	out := make(Answers, len(list))
	for _, item := range list {
		ans, ok := item.(map[string]any)
		if !ok {
			return nil, errors.New("answer is not an element")
		}
		id, ok := ans["QuestionIdentifier"].(string)
		if !ok || id == "" {
			return nil, errors.New("answer has no QuestionIdentifier")
		}
		out[id] = effectiveValue(ans)
	}
	return out, nil
}

func effectiveValue(ans map[string]any) any {
	for _, f := range answerFields {
		v, ok := ans[f]
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v
	}
	return nil
}

// DecodeAnswers turns an answer XML document into Answers.
func DecodeAnswers(answerXML string) (Answers, error) {
	tree, err := xmlTree(answerXML)
	if err != nil {
		return nil, wrap(ErrMalformedInput, "answer xml: %v", err)
	}

	collapsed, _ := Collapse(tree).(map[string]any)

	answers, err := AnswersFromTree(collapsed)
	if err != nil {
		return nil, wrap(ErrMalformedInput, "answer document: %v", err)
	}
	return answers, nil
}
