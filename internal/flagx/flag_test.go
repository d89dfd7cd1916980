package flagx

import (
	"os"
	"reflect"
	"testing"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "separate value kept",
			args:         []string{"-d", "postgres://x", "-z", "nope"},
			allowedFlags: []string{"-d"},
			want:         []string{"-d", "postgres://x"},
		},
		{
			name:         "equals form kept",
			args:         []string{"--database=postgres://x", "--other=1"},
			allowedFlags: []string{"--database"},
			want:         []string{"--database=postgres://x"},
		},
		{
			name:         "flag followed by another flag keeps only the flag",
			args:         []string{"-v", "-d", "dsn"},
			allowedFlags: []string{"-v", "-d"},
			want:         []string{"-v", "-d", "dsn"},
		},
		{
			name:         "nothing allowed",
			args:         []string{"-a", "1", "-b"},
			allowedFlags: nil,
			want:         []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterArgs(tc.args, tc.allowedFlags)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("FilterArgs() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"server", "-c", "conf.json", "-d", "dsn"}
	if got := JsonConfigFlags(); got != "conf.json" {
		t.Fatalf("JsonConfigFlags() = %q, want conf.json", got)
	}

	os.Args = []string{"server", "-d", "dsn"}
	if got := JsonConfigFlags(); got != "" {
		t.Fatalf("JsonConfigFlags() = %q, want empty", got)
	}
}
