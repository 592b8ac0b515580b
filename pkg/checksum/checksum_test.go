package checksum

import (
	"bytes"
	"strings"
	"testing"
)

const (
	emptySum    = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	helloSum    = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	testDataSum = "a186000422feab857329c684e9fe91412b1a5db084100b37a98cfc95b62aa867"
)

func TestSumKnownVectors(t *testing.T) {
	testcases := []struct {
		name string
		data []byte
		want string
	}{
		{name: "empty", data: []byte{}, want: emptySum},
		{name: "nil", data: nil, want: emptySum},
		{name: "hello", data: []byte("hello"), want: helloSum},
		{name: "test-data", data: []byte("test-data"), want: testDataSum},
	}
	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := Sum(tc.data); got != tc.want {
				t.Fatalf("Sum(%q) = %s, want %s", tc.data, got, tc.want)
			}
		})
	}
}

func TestSumDeterministicAndWellFormed(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("a"),
		bytes.Repeat([]byte{0xff}, 4096),
		[]byte(strings.Repeat("sumgate", 1000)),
	}
	for _, in := range inputs {
		first := Sum(in)
		if second := Sum(append([]byte(nil), in...)); first != second {
			t.Fatalf("Sum not deterministic: %s != %s", first, second)
		}
		if !Valid(first) {
			t.Fatalf("Sum produced malformed digest %q", first)
		}
	}
}

func TestSumReaderMatchesSum(t *testing.T) {
	sum, n, err := SumReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	if sum != helloSum || n != 5 {
		t.Fatalf("SumReader = %s/%d, want %s/5", sum, n, helloSum)
	}
}

func TestObjectNaming(t *testing.T) {
	name := ObjectName(helloSum)
	if name != "validation-"+helloSum+".bin" {
		t.Fatalf("unexpected object name %s", name)
	}
	if got := ObjectPath("b1", name); got != "b1/validation-"+helloSum+".bin" {
		t.Fatalf("unexpected object path %s", got)
	}
}

func TestValid(t *testing.T) {
	if Valid(strings.ToUpper(helloSum)) {
		t.Fatalf("uppercase digest must not be valid")
	}
	if Valid(helloSum[:63]) {
		t.Fatalf("short digest must not be valid")
	}
	if !Valid(emptySum) {
		t.Fatalf("expected empty digest to be valid")
	}
}
