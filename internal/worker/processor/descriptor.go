package processor

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DescriptorFile is the task descriptor's name inside a run's work dir.
const DescriptorFile = "inference_config.yaml"

type taskDescriptor struct {
	Task1 inferenceTask `yaml:"task1"`
}

type inferenceTask struct {
	VideoPath string `yaml:"video_path"`
	AudioPath string `yaml:"audio_path"`
	BBoxShift int    `yaml:"bbox_shift"`
}

// WriteDescriptor writes {task1: {video_path, audio_path, bbox_shift: 0}} to
// <workDir>/inference_config.yaml, replacing any existing file, and returns
// the file's absolute path.
func WriteDescriptor(workDir, videoPath, audioPath string) (string, error) {
	out, err := yaml.Marshal(taskDescriptor{
		Task1: inferenceTask{VideoPath: videoPath, AudioPath: audioPath, BBoxShift: 0},
	})
	if err != nil {
		return "", fmt.Errorf("encode descriptor: %w", err)
	}

	p, err := filepath.Abs(filepath.Join(workDir, DescriptorFile))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, out, 0o644); err != nil {
		return "", err
	}
	return p, nil
}
