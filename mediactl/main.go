package main

import "media-downloader/mediactl/cmd"

func main() {
	cmd.Execute()
}
