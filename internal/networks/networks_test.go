package networks

import "testing"

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    Network
		wantErr bool
	}{
		{name: "torus", in: "torus", want: Torus},
		{name: "uppercase", in: "TORUS", want: Torus},
		{name: "dash form", in: "torus-testnet", want: TorusTestnet},
		{name: "underscore form", in: "bittensor_testnet", want: BittensorTestnet},
		{name: "padded", in: "  polkadot ", want: Polkadot},
		{name: "unknown", in: "kusama", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParamsRegistered(t *testing.T) {
	t.Parallel()

	for _, n := range All() {
		p := MustParams(n)
		if p.NativeSymbol == "" {
			t.Errorf("%s: empty native symbol", n)
		}
		if p.NativeDecimals == 0 {
			t.Errorf("%s: zero decimals", n)
		}
		if p.BlockTimeSeconds == 0 {
			t.Errorf("%s: zero block time", n)
		}
		if p.PartitionSize == 0 {
			t.Errorf("%s: zero partition size", n)
		}
	}
}

func TestNetworkConstants(t *testing.T) {
	t.Parallel()

	if got := MustParams(Polkadot).NativeDecimals; got != 10 {
		t.Fatalf("polkadot decimals=%d want 10", got)
	}
	if got := MustParams(Torus).BlockTimeSeconds; got != 8 {
		t.Fatalf("torus block time=%d want 8", got)
	}
	if got := Torus.EnvPrefix(); got != "TORUS" {
		t.Fatalf("torus env prefix=%q want TORUS", got)
	}
	if !TorusTestnet.IsTorus() || Bittensor.IsTorus() {
		t.Fatal("IsTorus misclassifies networks")
	}
}
