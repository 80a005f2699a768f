package machine

import "fmt"

// shadowStack is a parallel return-address stack used only to validate
// that LEAVE pops the same address CALL pushed, guarding against a stack
// buffer overflow that overwrites the real return address in-band (the
// technique ASLR/stack canaries only partially cover). Pushed by CALL,
// popped and compared by LEAVE; a mismatch aborts rather than continuing
// into attacker-controlled control flow.
type shadowStack struct {
	addrs []uint32
}

func (s *shadowStack) push(retPC uint32) { s.addrs = append(s.addrs, retPC) }

func (s *shadowStack) pop(retPC uint32) error {
	if len(s.addrs) == 0 {
		return fmt.Errorf("CFI VIOLATION: return with empty shadow stack")
	}
	n := len(s.addrs) - 1
	want := s.addrs[n]
	s.addrs = s.addrs[:n]
	if want != retPC {
		return fmt.Errorf("CFI VIOLATION: return address 0x%x does not match call site 0x%x", retPC, want)
	}
	return nil
}
