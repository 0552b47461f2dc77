package thu

import "fmt"

// SourceURL is the host the dataset distribution is published on.
const SourceURL = "http://bci.med.tsinghua.edu.cn/upload/zhangshangen"

// RemoteFile pairs a distribution file name with its SHA-256 digest.
type RemoteFile struct {
	Name   string
	SHA256 string
}

// ZipFiles are the seven session archives. Each unpacks into a directory of
// per-session MAT-files covering ten subjects, four for the last archive.
var ZipFiles = []RemoteFile{
	{"S1-S10.mat.zip", "02893ac902dc9bb39e99e35f44f9c8cddb6b810a6f255ee33258c37fbd4ed08e"},
	{"S11-S20.mat.zip", "d137b6f4f861932701d3f4bf07b4a143c34095f5aabef2f9372be018e78956d3"},
	{"S21-S30.mat.zip", "6ac5f9cb7fead05942bbcc639cc28e648c5219b45c6624c838045ba26e29995d"},
	{"S31-S40.mat.zip", "c53f8400502175e2069e1645572852c0fc01d304fec060ccafe1394428044954"},
	{"S41-S50.mat.zip", "5f6d5fa5758ff00f630ddf87984ded56d42a271edc0c199f06d7d549609c2ab1"},
	{"S51-S60.mat.zip", "827429e2c3224860d33ae82d78ef52846882bd193176cf9edf5d4a27dec74ced"},
	{"S61-S64.mat.zip", "c500e8ef2062f71c3b7a929c26d1e6068fb73ede4593b7983d0bdb0fa8af51b3"},
}

// LooseFiles are the documentation files distributed next to the archives:
// the electrode location map, collection notes, the readme and the subject
// roster.
var LooseFiles = []RemoteFile{
	{"64-channels.loc", "947e5a743d86a5c94eaca6c442f1858f39d19486a5e841df4147063e15e9108c"},
	{"note.txt", "a70d6a729d861e8ad97dd1a6eb62f40bd93f32dca079d544ff9e269527d917f8"},
	{"Readme.txt", "5e67e6fe3596ff8b3691d812ab8ecf9286477d0b15361895c695977bebd57981"},
	{"subjects_information.xlsx", "beee4446bfdebd8d83fbe360ca4970525fd9921906b1dffab9ced99277aee68d"},
}

// AllFiles lists every distribution file, loose files first.
func AllFiles() []RemoteFile {
	all := make([]RemoteFile, 0, len(LooseFiles)+len(ZipFiles))
	all = append(all, LooseFiles...)
	all = append(all, ZipFiles...)
	return all
}

const (
	// OriginalSampleRateHz is the rate of the distributed signals, already
	// downsampled from the 1000 Hz recording device.
	OriginalSampleRateHz = 250

	// SubjectCount is the number of recorded subjects.
	SubjectCount = 64

	// SessionsPerSubject counts the A and B sessions of each subject.
	SessionsPerSubject = 2

	// TrialsPerSession is fixed by the paradigm: 2 blocks of 40 sequences
	// with 100 stimuli each.
	TrialsPerSession = 2 * 40 * 100

	// TotalTrials across all subjects and sessions.
	TotalTrials = SubjectCount * SessionsPerSubject * TrialsPerSession
)

// ChannelsToUse returns the channel indices retained for analysis: all 64
// electrodes except the two mastoid references at indices 32 and 42.
func ChannelsToUse() []int {
	out := make([]int, 0, 62)
	for ch := 0; ch < 64; ch++ {
		if ch == 32 || ch == 42 {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// SubjectFolder returns the extracted archive directory holding the given
// subject's sessions. Subjects are numbered 1 through SubjectCount.
func SubjectFolder(subject int) (string, error) {
	if subject < 1 || subject > SubjectCount {
		return "", fmt.Errorf("subject %d outside 1..%d", subject, SubjectCount)
	}
	return subjectFolder(subject), nil
}

func subjectFolder(subject int) string {
	if subject >= 61 {
		return "S61-S64.mat"
	}
	start := (subject-1)/10*10 + 1
	return fmt.Sprintf("S%d-S%d.mat", start, start+9)
}
