package goRecover

// Step is the position of a recovery Session. It is one of EnterIdentifier,
// EnterOtp, SetNewPassword or Complete.
type Step interface {
	Name() string
	step()
}

// EnterIdentifier collects an email or phone for Method.
type EnterIdentifier struct {
	Method Method
}

// EnterOtp waits for the code that was dispatched.
type EnterOtp struct{}

// SetNewPassword collects the new password after the code was accepted.
type SetNewPassword struct{}

// Complete is terminal.
type Complete struct{}

func (EnterIdentifier) Name() string { return "enter_identifier" }
func (EnterOtp) Name() string        { return "enter_otp" }
func (SetNewPassword) Name() string  { return "set_new_password" }
func (Complete) Name() string        { return "complete" }

func (EnterIdentifier) step() {}
func (EnterOtp) step()        {}
func (SetNewPassword) step()  {}
func (Complete) step()        {}
