//go:build !linux && !windows

package audio

type unsupportedEndpoint struct{}

func NewEndpoint() unsupportedEndpoint { return unsupportedEndpoint{} }

func (unsupportedEndpoint) MasterVolume() (float32, error) { return 0, ErrUnsupported }
func (unsupportedEndpoint) SetMasterVolume(float32) error  { return ErrUnsupported }
func (unsupportedEndpoint) Mute() (bool, error)            { return false, ErrUnsupported }
func (unsupportedEndpoint) SetMute(bool) error             { return ErrUnsupported }

type unsupportedMuter struct{}

func NewSessionMuter() unsupportedMuter { return unsupportedMuter{} }

func (unsupportedMuter) MuteAllExcept(int) error { return ErrUnsupported }
func (unsupportedMuter) UnmuteAll() error        { return ErrUnsupported }

type unsupportedPlayer struct{}

func NewPlayer() unsupportedPlayer { return unsupportedPlayer{} }

func (unsupportedPlayer) Start(string, func(error)) error { return ErrUnsupported }

func ListSessions() ([]LocalSession, error) { return nil, ErrUnsupported }
