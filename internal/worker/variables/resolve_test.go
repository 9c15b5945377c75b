package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveString(t *testing.T) {
	tests := []struct {
		name      string
		bag       Bag
		spec      AliasSpec
		want      string
		wantFound bool
	}{
		{
			name:      "later alias wins when earlier ones are absent",
			bag:       NewBag(map[string]Value{"Make": String("Ford")}),
			spec:      Keys("VehicleMake", "vehicleMake", "Make"),
			want:      "Ford",
			wantFound: true,
		},
		{
			name: "first present candidate wins",
			bag: NewBag(map[string]Value{
				"vehicleMake": String("Audi"),
				"Make":        String("Ford"),
			}),
			spec:      Keys("VehicleMake", "vehicleMake", "Make"),
			want:      "Audi",
			wantFound: true,
		},
		{
			name: "null values are skipped",
			bag: NewBag(map[string]Value{
				"VehicleMake": Null(),
				"Make":        String("Ford"),
			}),
			spec:      Keys("VehicleMake", "Make"),
			want:      "Ford",
			wantFound: true,
		},
		{
			name:      "number is stringified",
			bag:       NewBag(map[string]Value{"MembershipNumber": Number(123456)}),
			spec:      Keys("MembershipNumber"),
			want:      "123456",
			wantFound: true,
		},
		{
			name:      "bool is stringified",
			bag:       NewBag(map[string]Value{"flag": Bool(true)}),
			spec:      Keys("flag"),
			want:      "true",
			wantFound: true,
		},
		{
			name:      "strict keys miss yields zero value",
			bag:       NewBag(nil),
			spec:      Keys("X", "Y", "defaultVal"),
			want:      "",
			wantFound: false,
		},
		{
			name:      "trailing default mode returns last candidate literally",
			bag:       NewBag(nil),
			spec:      KeysWithTrailingDefault("X", "Y", "defaultVal"),
			want:      "defaultVal",
			wantFound: true,
		},
		{
			name:      "trailing default mode still probes last candidate as key",
			bag:       NewBag(map[string]Value{"defaultVal": String("real")}),
			spec:      KeysWithTrailingDefault("X", "Y", "defaultVal"),
			want:      "real",
			wantFound: true,
		},
		{
			name:      "explicit default is returned verbatim",
			bag:       NewBag(map[string]Value{"other": String("x")}),
			spec:      Keys("customerEmail").WithDefault(String("customer@example.com")),
			want:      "customer@example.com",
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := LookupString(tt.bag, tt.spec)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.want, ResolveString(tt.bag, tt.spec))
		})
	}
}

func TestResolveNumber(t *testing.T) {
	tests := []struct {
		name      string
		bag       Bag
		spec      AliasSpec
		want      float64
		wantFound bool
	}{
		{
			name:      "number value",
			bag:       NewBag(map[string]Value{"RepairCosts": Number(500)}),
			spec:      Keys("RepairCosts", "repairCost"),
			want:      500,
			wantFound: true,
		},
		{
			name:      "numeric string is parsed",
			bag:       NewBag(map[string]Value{"repairCost": String(" 249.99 ")}),
			spec:      Keys("RepairCosts", "repairCost"),
			want:      249.99,
			wantFound: true,
		},
		{
			name: "malformed string falls through to next candidate",
			bag: NewBag(map[string]Value{
				"RepairCosts": String("five hundred"),
				"repairCost":  Number(320),
			}),
			spec:      Keys("RepairCosts", "repairCost"),
			want:      320,
			wantFound: true,
		},
		{
			name:      "malformed string with default falls back to default",
			bag:       NewBag(map[string]Value{"RepairCosts": String("n/a")}),
			spec:      Keys("RepairCosts", "repairCost").WithDefault(Number(500)),
			want:      500,
			wantFound: true,
		},
		{
			name:      "bool is not a number",
			bag:       NewBag(map[string]Value{"RepairCosts": Bool(true)}),
			spec:      Keys("RepairCosts"),
			want:      0,
			wantFound: false,
		},
		{
			name:      "miss without default yields zero",
			bag:       NewBag(nil),
			spec:      Keys("finalPrice", "TotalPrice"),
			want:      0,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := LookupNumber(tt.bag, tt.spec)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.wantFound, found)
			assert.InDelta(t, tt.want, ResolveNumber(tt.bag, tt.spec), 1e-9)
		})
	}
}

func TestResolveBool(t *testing.T) {
	tests := []struct {
		name string
		bag  Bag
		spec AliasSpec
		want bool
	}{
		{
			name: "bool value",
			bag:  NewBag(map[string]Value{"Approved": Bool(true)}),
			spec: Keys("QuoteApprovalForm", "Approved"),
			want: true,
		},
		{
			name: "string true is parsed",
			bag:  NewBag(map[string]Value{"QuoteApprovalForm": String("true")}),
			spec: Keys("QuoteApprovalForm", "Approved"),
			want: true,
		},
		{
			name: "unparseable string falls through",
			bag: NewBag(map[string]Value{
				"QuoteApprovalForm": String("maybe"),
				"Approved":          Bool(true),
			}),
			spec: Keys("QuoteApprovalForm", "Approved"),
			want: true,
		},
		{
			name: "miss yields false",
			bag:  NewBag(nil),
			spec: Keys("QuoteApprovalForm"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveBool(tt.bag, tt.spec))
		})
	}
}

func TestKeys_PanicsWithoutCandidates(t *testing.T) {
	assert.Panics(t, func() { Keys() })
	assert.Panics(t, func() { KeysWithTrailingDefault() })
}

func TestResolve_DoesNotMutateBag(t *testing.T) {
	bag := NewBag(map[string]Value{"Make": String("Ford")})
	before := bag.Keys()

	_ = ResolveString(bag, Keys("VehicleMake", "Make").WithDefault(String("x")))
	_ = ResolveNumber(bag, Keys("Make"))

	assert.Equal(t, before, bag.Keys())
}

func TestAnyTrue(t *testing.T) {
	bag := NewBag(map[string]Value{
		"isMember":  Bool(false),
		"SignedUp":  String("true"),
		"SigningUp": Bool(true),
	})
	assert.True(t, AnyTrue(bag, "isMember", "SignedUp", "SigningUp"))
	assert.False(t, AnyTrue(bag, "isMember", "SignedUp"))
}

func TestBag_JSONRoundTrip(t *testing.T) {
	raw := []byte(`{"amount":150.0,"name":"Jo","member":true,"note":null,"meta":{"k":"v"},"tags":["a",1]}`)

	var bag Bag
	require.NoError(t, bag.UnmarshalJSON(raw))

	amount, ok := bag.Get("amount")
	require.True(t, ok)
	assert.Equal(t, KindNumber, amount.Kind())

	note, ok := bag.Get("note")
	require.True(t, ok)
	assert.True(t, note.IsNull())

	meta, _ := bag.Get("meta")
	assert.Equal(t, KindMap, meta.Kind())
	tags, _ := bag.Get("tags")
	assert.Len(t, tags.Items(), 2)

	encoded, err := bag.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":150,"name":"Jo","member":true,"note":null,"meta":{"k":"v"},"tags":["a",1]}`, string(encoded))
}

func TestBag_RejectsNonObject(t *testing.T) {
	var bag Bag
	err := bag.UnmarshalJSON([]byte(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")
}

func TestBuilder_BuildIsSnapshot(t *testing.T) {
	b := NewBuilder().SetString("a", "1")
	first := b.Build()
	b.SetString("b", "2")

	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 2, b.Build().Len())
}
