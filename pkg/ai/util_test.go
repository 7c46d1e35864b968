package ai

import (
	"testing"
)

func TestUnmarshalFlexible(t *testing.T) {
	type wording struct {
		Title string `json:"title"`
	}

	tests := []struct {
		name  string
		input string
		want  wording
	}{
		{
			name:  "valid json object",
			input: `{"title":"Bridge found"}`,
			want:  wording{Title: "Bridge found"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{title: 'Bridge found'}`,
			want:  wording{Title: "Bridge found"},
		},
		{
			name:  "trailing comma",
			input: `{"title":"Bridge found",}`,
			want:  wording{Title: "Bridge found"},
		},
		{
			name:  "missing end bracket",
			input: `{"title":"Bridge found"`,
			want:  wording{Title: "Bridge found"},
		},
		{
			name:  "double encoded",
			input: `"{\"title\": \"Bridge found\"}"`,
			want:  wording{Title: "Bridge found"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got wording
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("UnmarshalFlexible() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestGenerateSchemaRejectsAdditionalProperties(t *testing.T) {
	type out struct {
		Title string `json:"title"`
	}
	schema := GenerateSchema(&out{})
	if schema == nil {
		t.Fatalf("GenerateSchema returned nil")
	}
}
