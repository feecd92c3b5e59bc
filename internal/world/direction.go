package world

// Input flag bits carried in C_PlayerInput. Shift and Space are reserved
// for sprint and jump; they do not affect movement direction.
const (
	InputNone  uint8 = 0
	InputW     uint8 = 1
	InputS     uint8 = 2
	InputA     uint8 = 4
	InputD     uint8 = 8
	InputShift uint8 = 16
	InputSpace uint8 = 32
)

// moveMask selects the four direction bits.
const moveMask = InputW | InputS | InputA | InputD

// DirectionFromFlags converts WASD bits into a unit direction vector.
// Y is up: W is +y, S is -y. Opposing bits cancel, diagonals are
// normalized to length 1.
func DirectionFromFlags(flags uint8) Vec3 {
	var dir Vec3

	w := flags&InputW != 0
	s := flags&InputS != 0
	a := flags&InputA != 0
	d := flags&InputD != 0

	if w && !s {
		dir.Y += 1
	} else if s && !w {
		dir.Y -= 1
	}
	if a && !d {
		dir.X -= 1
	} else if d && !a {
		dir.X += 1
	}

	return dir.Normalized()
}

// IsMoving reports whether any direction bit is set. Opposing bits that
// cancel to zero velocity still count here.
func IsMoving(flags uint8) bool {
	return flags&moveMask != 0
}
