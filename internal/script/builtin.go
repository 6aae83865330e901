package script

func mustSteps(lines ...string) []Step {
	steps := make([]Step, len(lines))
	for i, l := range lines {
		st, err := ParseStep(l)
		if err != nil {
			panic(err)
		}
		steps[i] = st
	}
	return steps
}

// BuiltIn returns predefined bench-test scripts.
func BuiltIn() map[string]Script {
	return map[string]Script{
		"hop": {
			Name:        "Hop",
			Description: "Take off, hold position briefly and land.",
			Steps:       mustSteps("initialize", "battery", "takeoff", "hover", "wait 3s", "land"),
		},
		"square": {
			Name:        "Square",
			Description: "Fly a one metre square at reduced speed.",
			Steps: mustSteps(
				"initialize", "takeoff", "speed 30",
				"move forward 100", "rotate cw 90",
				"move forward 100", "rotate cw 90",
				"move forward 100", "rotate cw 90",
				"move forward 100", "rotate cw 90",
				"land",
			),
		},
		"pirouette": {
			Name:        "Pirouette",
			Description: "Climb, turn a full circle in both directions and land.",
			Steps:       mustSteps("initialize", "takeoff", "move up 50", "rotate cw 360", "rotate ccw 360", "move down 50", "land"),
		},
	}
}
