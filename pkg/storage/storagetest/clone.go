package storagetest

import (
	"testing"
)

func runCloneTests(t *testing.T, factory BackendFactory) {
	t.Run("CloneHasSameContent", func(t *testing.T) {
		b := factory(t)
		src := createStream(t, b, []byte("shared content"))

		dst, err := b.Clone(t.Context(), src)
		if err != nil {
			t.Fatalf("Clone() failed: %v", err)
		}
		if dst == src {
			t.Fatal("Clone() returned the source id")
		}
		assertContent(t, b, dst, []byte("shared content"))
	})

	t.Run("WritesToCloneDoNotAffectSource", func(t *testing.T) {
		b := factory(t)
		src := createStream(t, b, []byte("original"))

		dst, err := b.Clone(t.Context(), src)
		if err != nil {
			t.Fatalf("Clone() failed: %v", err)
		}
		if _, err := b.WriteAt(t.Context(), dst, []byte("MUTATED!"), 0); err != nil {
			t.Fatalf("WriteAt() failed: %v", err)
		}
		if err := b.Truncate(t.Context(), dst, 100); err != nil {
			t.Fatalf("Truncate() failed: %v", err)
		}

		assertContent(t, b, src, []byte("original"))
	})

	t.Run("WritesToSourceDoNotAffectClone", func(t *testing.T) {
		b := factory(t)
		src := createStream(t, b, []byte("original"))

		dst, err := b.Clone(t.Context(), src)
		if err != nil {
			t.Fatalf("Clone() failed: %v", err)
		}
		if _, err := b.WriteAt(t.Context(), src, []byte("CHANGED!"), 0); err != nil {
			t.Fatalf("WriteAt() failed: %v", err)
		}

		assertContent(t, b, dst, []byte("original"))
	})

	t.Run("DeleteSourceKeepsClone", func(t *testing.T) {
		b := factory(t)
		src := createStream(t, b, []byte("keep me"))

		dst, err := b.Clone(t.Context(), src)
		if err != nil {
			t.Fatalf("Clone() failed: %v", err)
		}
		if err := b.Delete(t.Context(), src); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		assertContent(t, b, dst, []byte("keep me"))
	})
}
