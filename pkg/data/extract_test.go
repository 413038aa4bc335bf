package data

import (
	"reflect"
	"testing"
)

func TestJSONObjects(t *testing.T) {
	whole := JSONObjects(`{"correct": true, "data": {"url": "https://q.example/2"}}`)
	if len(whole) != 1 || whole[0]["correct"] != true {
		t.Fatalf("whole object = %v", whole)
	}

	embedded := JSONObjects(`result: {"a": 1} and {"b": "x"} and {broken}`)
	want := []map[string]any{{"a": float64(1)}, {"b": "x"}}
	if !reflect.DeepEqual(embedded, want) {
		t.Errorf("embedded = %v, want %v", embedded, want)
	}

	if got := JSONObjects("plain text"); len(got) != 0 {
		t.Errorf("plain text = %v, want none", got)
	}
}

func TestURLs(t *testing.T) {
	text := `Go to https://quiz.example/q1. Then "http://other.example/path?x=1", (see https://third.example/a).`
	want := []string{"https://quiz.example/q1", "http://other.example/path?x=1", "https://third.example/a"}
	if got := URLs(text); !reflect.DeepEqual(got, want) {
		t.Errorf("URLs() = %v, want %v", got, want)
	}
	if got := URLs("nothing"); len(got) != 0 {
		t.Errorf("URLs(nothing) = %v", got)
	}
}
