package optimizer

import "github.com/hupe1980/tier2/internal/uop"

// removeUnneededUops drops _SET_IP unless a later op may need the
// instruction pointer (it escapes, may raise, or pushes a frame), and drops
// _CHECK_VALIDITY when nothing could have escaped since the previous one.
func removeUnneededUops(instrs []uop.Instruction) {
	lastSetIP := -1
	var saved uop.Instruction
	mayHaveEscaped := true

	for pc := range instrs {
		in := &instrs[pc]
		switch in.Opcode {
		case uop.SetIP:
			saved = *in
			replaceWithNop(in)
			lastSetIP = pc
		case uop.CheckValidity:
			if mayHaveEscaped {
				mayHaveEscaped = false
			} else {
				replaceWithNop(in)
			}
		default:
			flags := in.Opcode.Flags()
			needsIP := flags.Has(uop.FlagEscapes) || flags.Has(uop.FlagError) || in.Opcode == uop.PushFrame
			if needsIP && lastSetIP >= 0 {
				instrs[lastSetIP] = saved
				lastSetIP = -1
			}
			if flags.Has(uop.FlagEscapes) {
				mayHaveEscaped = true
			}
			if in.Opcode.IsTerminator() {
				return
			}
		}
	}
}
