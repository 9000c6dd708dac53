package capsule_test

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/joeycumines/clustered/addr"
	"github.com/joeycumines/clustered/capsule"
)

func TestProgram_Validate(t *testing.T) {
	cases := []struct {
		name    string
		program capsule.Program
		wantErr bool
	}{
		{"valid", capsule.Program{OutDataNBytes: 8, WorkgroupSize: 1, NWorkgroups: 2}, false},
		{"zero out bytes", capsule.Program{OutDataNBytes: 0, WorkgroupSize: 1, NWorkgroups: 1}, true},
		{"zero workgroup size", capsule.Program{OutDataNBytes: 4, WorkgroupSize: 0, NWorkgroups: 1}, true},
		{"zero n workgroups", capsule.Program{OutDataNBytes: 4, WorkgroupSize: 1, NWorkgroups: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.program.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestProgram_jsonFieldNames(t *testing.T) {
	p := capsule.Program{
		InData:        []byte{1, 2, 3},
		OutDataNBytes: 8,
		Program:       "shader source",
		EntryPoint:    "main",
		NWorkgroups:   2,
		WorkgroupSize: 64,
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"in_data", "out_data_nbytes", "program", "entry_point", "n_workgroups", "workgroup_size"} {
		if _, ok := m[field]; !ok {
			t.Fatalf("expected field %q in wire JSON, got %s", field, b)
		}
	}
}

func TestNewTask(t *testing.T) {
	ret := addr.NewPeer(netip.MustParseAddr("127.0.0.1"), 8008)
	task, err := capsule.NewTask(ret, capsule.Program{OutDataNBytes: 4, WorkgroupSize: 1, NWorkgroups: 1})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if task.ID.Version() != 7 {
		t.Fatalf("expected a v7 UUID, got version %d", task.ID.Version())
	}
	if task.ReturnAddr != ret {
		t.Fatalf("got return addr %v want %v", task.ReturnAddr, ret)
	}
}
