package namedlist

import (
	"encoding/json"
	"testing"
)

func TestNamedList_DuplicatesAndOrder(t *testing.T) {
	nl := New(0)
	nl.Add("fq", "a")
	nl.Add("q", "x")
	nl.Add("fq", "b")

	if nl.Len() != 3 {
		t.Fatalf("Len() = %d", nl.Len())
	}
	if got := nl.GetAll("fq"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("GetAll() = %v", got)
	}
	if i := nl.IndexOf("fq", 1); i != 2 {
		t.Errorf("IndexOf(fq, 1) = %d", i)
	}
}

func TestNamedList_SetAt(t *testing.T) {
	nl := Of("red", int64(5), "blue", int64(2))
	i := nl.IndexOf("blue", 0)
	nl.SetAt(i, int64(7))

	if nl.Get("blue") != int64(7) {
		t.Errorf("Get(blue) = %v", nl.Get("blue"))
	}
}

func TestNamedList_NullName(t *testing.T) {
	nl := Of("red", int64(1))
	nl.AddNull(int64(4))

	if !nl.IsNull(1) || nl.Name(1) != "" {
		t.Fatal("expected null entry at 1")
	}
	if nl.IndexOf("", 0) != -1 {
		t.Error("null entry must not match the empty name")
	}
	b, err := json.Marshal(nl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"red":1,"":4}` {
		t.Errorf("json = %s", b)
	}
}

func TestNamedList_Remove(t *testing.T) {
	nl := Of("a", 1, "b", 2, "a", 3)
	if v := nl.Remove("a"); v != 1 {
		t.Errorf("Remove() = %v", v)
	}
	if nl.Len() != 1 || nl.Name(0) != "b" {
		t.Errorf("after Remove: len=%d", nl.Len())
	}
}

func TestNamedList_CloneDeep(t *testing.T) {
	inner := Of("x", int64(1))
	nl := Of("counts", inner)
	c := nl.Clone()
	c.GetList("counts").SetAt(0, int64(9))

	if inner.Get("x") != int64(1) {
		t.Error("clone shares nested list")
	}
}

func TestNamedList_NilSafe(t *testing.T) {
	var nl *NamedList
	if nl.Len() != 0 || nl.Get("x") != nil || nl.GetList("x") != nil {
		t.Error("nil list should behave as empty")
	}
}

func TestInt64(t *testing.T) {
	for _, v := range []any{int64(3), 3, int32(3), float64(3), json.Number("3")} {
		if n, ok := Int64(v); !ok || n != 3 {
			t.Errorf("Int64(%T) = %d, %v", v, n, ok)
		}
	}
	if _, ok := Int64("3"); ok {
		t.Error("Int64(string) should fail")
	}
}
