package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kataras/total-export/pkg/remote"
)

func TestDecide(t *testing.T) {
	older := remote.Epoch(1000)
	newer := remote.Epoch(2000)

	tests := []struct {
		name       string
		in         Input
		wantAction Action
		wantReason Reason
	}{
		{name: "missing archive unset", in: Input{Policy: PolicyUnset, Remote: newer, Local: older}, wantAction: Export, wantReason: ReasonMissing},
		{name: "missing archive never", in: Input{Policy: PolicyNever}, wantAction: Export, wantReason: ReasonMissing},
		{name: "missing archive always", in: Input{Policy: PolicyAlways, Remote: older, Local: newer}, wantAction: Export, wantReason: ReasonMissing},
		{name: "always overwrites up to date archive", in: Input{ArtifactExists: true, Policy: PolicyAlways, Remote: older, Local: newer}, wantAction: Export, wantReason: ReasonOverwrite},
		{name: "always overwrites without timestamps", in: Input{ArtifactExists: true, Policy: PolicyAlways}, wantAction: Export, wantReason: ReasonOverwrite},
		{name: "never with unknown remote", in: Input{ArtifactExists: true, Policy: PolicyNever, Local: newer}, wantAction: Export, wantReason: ReasonRemoteUnknown},
		{name: "unset with unknown remote", in: Input{ArtifactExists: true, Policy: PolicyUnset, Local: newer}, wantAction: Export, wantReason: ReasonRemoteUnknown},
		{name: "never local newer", in: Input{ArtifactExists: true, Policy: PolicyNever, Remote: older, Local: newer}, wantAction: Skip, wantReason: ReasonUpToDate},
		{name: "never local equal", in: Input{ArtifactExists: true, Policy: PolicyNever, Remote: older, Local: older}, wantAction: Skip, wantReason: ReasonUpToDate},
		{name: "never remote newer", in: Input{ArtifactExists: true, Policy: PolicyNever, Remote: newer, Local: older}, wantAction: Export, wantReason: ReasonRemoteNewer},
		{name: "unset local newer", in: Input{ArtifactExists: true, Policy: PolicyUnset, Remote: older, Local: newer}, wantAction: Skip, wantReason: ReasonUpToDate},
		{name: "unset remote newer", in: Input{ArtifactExists: true, Policy: PolicyUnset, Remote: newer, Local: older}, wantAction: Export, wantReason: ReasonRemoteNewer},
		{name: "remote newer by a fraction", in: Input{ArtifactExists: true, Policy: PolicyNever, Remote: remote.Epoch(1000.25), Local: remote.Epoch(1000)}, wantAction: Export, wantReason: ReasonRemoteNewer},
		{name: "local time unknown", in: Input{ArtifactExists: true, Policy: PolicyNever, Remote: older}, wantAction: Export, wantReason: ReasonLocalUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.in)
			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

// TestDecideExhaustive walks every combination of existence, policy and
// timestamp knowledge and checks the result against the decision table.
func TestDecideExhaustive(t *testing.T) {
	stamps := []remote.Timestamp{remote.Unknown, remote.Epoch(10), remote.Epoch(20)}

	for _, exists := range []bool{false, true} {
		for _, policy := range []Policy{PolicyUnset, PolicyAlways, PolicyNever} {
			for _, rts := range stamps {
				for _, lts := range stamps {
					in := Input{ArtifactExists: exists, Policy: policy, Remote: rts, Local: lts}
					got := Decide(in).Action

					want := Export
					r, rok := rts.Seconds()
					l, lok := lts.Seconds()
					if exists && policy != PolicyAlways && rok && lok && l >= r {
						want = Skip
					}
					require.Equalf(t, want, got, "Decide(%+v)", in)
				}
			}
		}
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		raw     string
		want    Policy
		wantErr bool
	}{
		{raw: "always", want: PolicyAlways},
		{raw: " Never ", want: PolicyNever},
		{raw: "ask", want: PolicyUnset},
		{raw: "", want: PolicyUnset},
		{raw: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePolicy(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedsTimestamps(t *testing.T) {
	assert.False(t, NeedsTimestamps(false, PolicyNever))
	assert.False(t, NeedsTimestamps(true, PolicyAlways))
	assert.True(t, NeedsTimestamps(true, PolicyNever))
	assert.True(t, NeedsTimestamps(true, PolicyUnset))
}
