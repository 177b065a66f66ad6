package l4activity

// Label is an activity classification.
type Label string

const (
	LabelNoPose          Label = "no_pose"
	LabelInitializing    Label = "initializing"
	LabelReading         Label = "reading"
	LabelSitting         Label = "sitting"
	LabelReadingStanding Label = "reading_standing"
	LabelStanding        Label = "standing"
	LabelWalkingSlow     Label = "walking_slow"
	LabelWalking         Label = "walking"
	LabelWalkingFast     Label = "walking_fast"
	LabelJogging         Label = "jogging"
	LabelRunning         Label = "running"
)

// Labels lists every label in rule order.
var Labels = []Label{
	LabelNoPose,
	LabelInitializing,
	LabelReading,
	LabelSitting,
	LabelReadingStanding,
	LabelStanding,
	LabelWalkingSlow,
	LabelWalking,
	LabelWalkingFast,
	LabelJogging,
	LabelRunning,
}

// Moving reports whether the label describes locomotion.
func (l Label) Moving() bool {
	switch l {
	case LabelWalkingSlow, LabelWalking, LabelWalkingFast, LabelJogging, LabelRunning:
		return true
	}
	return false
}
