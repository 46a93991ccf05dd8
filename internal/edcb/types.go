package edcb

import (
	"time"
)

// ServiceInfo is one row of the daemon's service (channel) table.
type ServiceInfo struct {
	ONID                uint16
	TSID                uint16
	SID                 uint16
	ServiceType         uint16
	PartialReception    bool
	ServiceProviderName string
	ServiceName         string
	NetworkName         string
	TSName              string
	RemoconID           uint8
}

func (s *ServiceInfo) write(w *writer) {
	mark := w.structBegin()
	w.uint16(s.ONID)
	w.uint16(s.TSID)
	w.uint16(s.SID)
	w.uint16(s.ServiceType)
	w.uint8(boolByte(s.PartialReception))
	w.string(s.ServiceProviderName)
	w.string(s.ServiceName)
	w.string(s.NetworkName)
	w.string(s.TSName)
	w.uint8(s.RemoconID)
	w.structEnd(mark)
}

func readServiceInfo(r *reader) (ServiceInfo, error) {
	var s ServiceInfo
	sub, err := r.structReader()
	if err != nil {
		return s, err
	}
	if s.ONID, err = sub.uint16(); err != nil {
		return s, err
	}
	if s.TSID, err = sub.uint16(); err != nil {
		return s, err
	}
	if s.SID, err = sub.uint16(); err != nil {
		return s, err
	}
	if s.ServiceType, err = sub.uint16(); err != nil {
		return s, err
	}
	var pr uint8
	if pr, err = sub.uint8(); err != nil {
		return s, err
	}
	s.PartialReception = pr != 0
	if s.ServiceProviderName, err = sub.string(); err != nil {
		return s, err
	}
	if s.ServiceName, err = sub.string(); err != nil {
		return s, err
	}
	if s.NetworkName, err = sub.string(); err != nil {
		return s, err
	}
	if s.TSName, err = sub.string(); err != nil {
		return s, err
	}
	if s.RemoconID, err = sub.uint8(); err != nil {
		return s, err
	}
	return s, nil
}

// SetChInfo selects a service for a NetworkTV tuner process.
//
// SpaceOrID carries the caller-chosen nwtv_id and ChOrMode carries the
// network mode (2 = TCP) for NwTVIDSetCh.
type SetChInfo struct {
	UseSID    bool
	ONID      uint16
	TSID      uint16
	SID       uint16
	UseBonCh  bool
	SpaceOrID uint32
	ChOrMode  uint32
}

func (c *SetChInfo) write(w *writer) {
	mark := w.structBegin()
	w.int32(boolInt32(c.UseSID))
	w.uint16(c.ONID)
	w.uint16(c.TSID)
	w.uint16(c.SID)
	w.int32(boolInt32(c.UseBonCh))
	w.uint32(c.SpaceOrID)
	w.uint32(c.ChOrMode)
	w.structEnd(mark)
}

func readSetChInfo(r *reader) (SetChInfo, error) {
	var c SetChInfo
	sub, err := r.structReader()
	if err != nil {
		return c, err
	}
	var b int32
	if b, err = sub.int32(); err != nil {
		return c, err
	}
	c.UseSID = b != 0
	if c.ONID, err = sub.uint16(); err != nil {
		return c, err
	}
	if c.TSID, err = sub.uint16(); err != nil {
		return c, err
	}
	if c.SID, err = sub.uint16(); err != nil {
		return c, err
	}
	if b, err = sub.int32(); err != nil {
		return c, err
	}
	c.UseBonCh = b != 0
	if c.SpaceOrID, err = sub.uint32(); err != nil {
		return c, err
	}
	if c.ChOrMode, err = sub.uint32(); err != nil {
		return c, err
	}
	return c, nil
}

// RecFolderInfo names one destination folder of a recording setting.
type RecFolderInfo struct {
	RecFolder   string
	WritePlugIn string
	RecNamePlugIn string
}

func (f *RecFolderInfo) write(w *writer) {
	mark := w.structBegin()
	w.string(f.RecFolder)
	w.string(f.WritePlugIn)
	w.string(f.RecNamePlugIn)
	w.structEnd(mark)
}

func readRecFolderInfo(r *reader) (RecFolderInfo, error) {
	var f RecFolderInfo
	sub, err := r.structReader()
	if err != nil {
		return f, err
	}
	if f.RecFolder, err = sub.string(); err != nil {
		return f, err
	}
	if f.WritePlugIn, err = sub.string(); err != nil {
		return f, err
	}
	if f.RecNamePlugIn, err = sub.string(); err != nil {
		return f, err
	}
	return f, nil
}

// RecSetting holds how a reservation records.
type RecSetting struct {
	RecMode        uint8
	Priority       uint8
	TuijyuuFlag    bool
	ServiceMode    uint32
	PittariFlag    bool
	BatFilePath    string
	RecFolderList  []RecFolderInfo
	SuspendMode    uint8
	RebootFlag     bool
	UseMargineFlag bool
	StartMargine   int32
	EndMargine     int32
	ContinueRecFlag bool
	PartialRecFlag uint8
	TunerID        uint32
	PartialRecFolder []RecFolderInfo
}

func (s *RecSetting) write(w *writer) {
	mark := w.structBegin()
	w.uint8(s.RecMode)
	w.uint8(s.Priority)
	w.uint8(boolByte(s.TuijyuuFlag))
	w.uint32(s.ServiceMode)
	w.uint8(boolByte(s.PittariFlag))
	w.string(s.BatFilePath)
	vmark := w.vectorBegin(len(s.RecFolderList))
	for i := range s.RecFolderList {
		s.RecFolderList[i].write(w)
	}
	w.vectorEnd(vmark)
	w.uint8(s.SuspendMode)
	w.uint8(boolByte(s.RebootFlag))
	w.uint8(boolByte(s.UseMargineFlag))
	w.int32(s.StartMargine)
	w.int32(s.EndMargine)
	w.uint8(boolByte(s.ContinueRecFlag))
	w.uint8(s.PartialRecFlag)
	w.uint32(s.TunerID)
	vmark = w.vectorBegin(len(s.PartialRecFolder))
	for i := range s.PartialRecFolder {
		s.PartialRecFolder[i].write(w)
	}
	w.vectorEnd(vmark)
	w.structEnd(mark)
}

func readRecSetting(r *reader) (RecSetting, error) {
	var s RecSetting
	sub, err := r.structReader()
	if err != nil {
		return s, err
	}
	var b uint8
	if s.RecMode, err = sub.uint8(); err != nil {
		return s, err
	}
	if s.Priority, err = sub.uint8(); err != nil {
		return s, err
	}
	if b, err = sub.uint8(); err != nil {
		return s, err
	}
	s.TuijyuuFlag = b != 0
	if s.ServiceMode, err = sub.uint32(); err != nil {
		return s, err
	}
	if b, err = sub.uint8(); err != nil {
		return s, err
	}
	s.PittariFlag = b != 0
	if s.BatFilePath, err = sub.string(); err != nil {
		return s, err
	}
	if s.RecFolderList, err = readRecFolderList(sub); err != nil {
		return s, err
	}
	if s.SuspendMode, err = sub.uint8(); err != nil {
		return s, err
	}
	if b, err = sub.uint8(); err != nil {
		return s, err
	}
	s.RebootFlag = b != 0
	if b, err = sub.uint8(); err != nil {
		return s, err
	}
	s.UseMargineFlag = b != 0
	if s.StartMargine, err = sub.int32(); err != nil {
		return s, err
	}
	if s.EndMargine, err = sub.int32(); err != nil {
		return s, err
	}
	if b, err = sub.uint8(); err != nil {
		return s, err
	}
	s.ContinueRecFlag = b != 0
	if s.PartialRecFlag, err = sub.uint8(); err != nil {
		return s, err
	}
	if s.TunerID, err = sub.uint32(); err != nil {
		return s, err
	}
	if s.PartialRecFolder, err = readRecFolderList(sub); err != nil {
		return s, err
	}
	return s, nil
}

func readRecFolderList(r *reader) ([]RecFolderInfo, error) {
	sub, count, err := r.vectorReader()
	if err != nil {
		return nil, err
	}
	list := make([]RecFolderInfo, 0, count)
	for i := 0; i < count; i++ {
		f, err := readRecFolderInfo(sub)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, nil
}

// ReserveData is one recording reservation.
type ReserveData struct {
	Title          string
	StartTime      time.Time
	DurationSecond uint32
	StationName    string
	ONID           uint16
	TSID           uint16
	SID            uint16
	EID            uint16
	Comment        string
	ReserveID      uint32
	OverlapMode    uint8
	StartTimeEpg   time.Time
	RecSetting     RecSetting
}

func (d *ReserveData) write(w *writer) {
	mark := w.structBegin()
	w.string(d.Title)
	w.systemTime(d.StartTime)
	w.uint32(d.DurationSecond)
	w.string(d.StationName)
	w.uint16(d.ONID)
	w.uint16(d.TSID)
	w.uint16(d.SID)
	w.uint16(d.EID)
	w.string(d.Comment)
	w.uint32(d.ReserveID)
	w.uint8(0) // unused (recWaitFlag)
	w.uint8(d.OverlapMode)
	w.string("") // unused (recFilePath)
	w.systemTime(d.StartTimeEpg)
	d.RecSetting.write(w)
	w.structEnd(mark)
}

func readReserveData(r *reader) (ReserveData, error) {
	var d ReserveData
	sub, err := r.structReader()
	if err != nil {
		return d, err
	}
	if d.Title, err = sub.string(); err != nil {
		return d, err
	}
	if d.StartTime, err = sub.systemTime(); err != nil {
		return d, err
	}
	if d.DurationSecond, err = sub.uint32(); err != nil {
		return d, err
	}
	if d.StationName, err = sub.string(); err != nil {
		return d, err
	}
	if d.ONID, err = sub.uint16(); err != nil {
		return d, err
	}
	if d.TSID, err = sub.uint16(); err != nil {
		return d, err
	}
	if d.SID, err = sub.uint16(); err != nil {
		return d, err
	}
	if d.EID, err = sub.uint16(); err != nil {
		return d, err
	}
	if d.Comment, err = sub.string(); err != nil {
		return d, err
	}
	if d.ReserveID, err = sub.uint32(); err != nil {
		return d, err
	}
	if _, err = sub.uint8(); err != nil { // unused
		return d, err
	}
	if d.OverlapMode, err = sub.uint8(); err != nil {
		return d, err
	}
	if _, err = sub.string(); err != nil { // unused
		return d, err
	}
	if d.StartTimeEpg, err = sub.systemTime(); err != nil {
		return d, err
	}
	if d.RecSetting, err = readRecSetting(sub); err != nil {
		return d, err
	}
	return d, nil
}

// SearchKeyInfo is the match condition of a keyword reservation rule.
type SearchKeyInfo struct {
	AndKey        string
	NotKey        string
	RegExpFlag    bool
	TitleOnlyFlag bool
	ContentList   []ContentData
	DateList      []SearchDateInfo
	ServiceList   []uint64
	FreeCAFlag    int32
	ChkRecEnd     bool
	ChkRecDay     uint16
}

// ContentData is one ARIB genre condition.
type ContentData struct {
	ContentNibble uint16
	UserNibble    uint16
}

// SearchDateInfo is one weekday/time window condition.
type SearchDateInfo struct {
	StartDayOfWeek uint8
	StartHour      uint16
	StartMin       uint16
	EndDayOfWeek   uint8
	EndHour        uint16
	EndMin         uint16
}

func (s *SearchKeyInfo) write(w *writer) {
	mark := w.structBegin()
	w.string(s.AndKey)
	w.string(s.NotKey)
	w.int32(boolInt32(s.RegExpFlag))
	w.int32(boolInt32(s.TitleOnlyFlag))
	vmark := w.vectorBegin(len(s.ContentList))
	for _, c := range s.ContentList {
		cmark := w.structBegin()
		w.uint16(c.ContentNibble)
		w.uint16(c.UserNibble)
		w.structEnd(cmark)
	}
	w.vectorEnd(vmark)
	vmark = w.vectorBegin(len(s.DateList))
	for _, d := range s.DateList {
		dmark := w.structBegin()
		w.uint8(d.StartDayOfWeek)
		w.uint16(d.StartHour)
		w.uint16(d.StartMin)
		w.uint8(d.EndDayOfWeek)
		w.uint16(d.EndHour)
		w.uint16(d.EndMin)
		w.structEnd(dmark)
	}
	w.vectorEnd(vmark)
	vmark = w.vectorBegin(len(s.ServiceList))
	for _, id := range s.ServiceList {
		w.uint64(id)
	}
	w.vectorEnd(vmark)
	w.int32(s.FreeCAFlag)
	w.uint8(boolByte(s.ChkRecEnd))
	w.uint16(s.ChkRecDay)
	w.structEnd(mark)
}

func readSearchKeyInfo(r *reader) (SearchKeyInfo, error) {
	var s SearchKeyInfo
	sub, err := r.structReader()
	if err != nil {
		return s, err
	}
	if s.AndKey, err = sub.string(); err != nil {
		return s, err
	}
	if s.NotKey, err = sub.string(); err != nil {
		return s, err
	}
	var b int32
	if b, err = sub.int32(); err != nil {
		return s, err
	}
	s.RegExpFlag = b != 0
	if b, err = sub.int32(); err != nil {
		return s, err
	}
	s.TitleOnlyFlag = b != 0

	cvec, count, err := sub.vectorReader()
	if err != nil {
		return s, err
	}
	for i := 0; i < count; i++ {
		csub, err := cvec.structReader()
		if err != nil {
			return s, err
		}
		var c ContentData
		if c.ContentNibble, err = csub.uint16(); err != nil {
			return s, err
		}
		if c.UserNibble, err = csub.uint16(); err != nil {
			return s, err
		}
		s.ContentList = append(s.ContentList, c)
	}

	dvec, count, err := sub.vectorReader()
	if err != nil {
		return s, err
	}
	for i := 0; i < count; i++ {
		dsub, err := dvec.structReader()
		if err != nil {
			return s, err
		}
		var d SearchDateInfo
		if d.StartDayOfWeek, err = dsub.uint8(); err != nil {
			return s, err
		}
		if d.StartHour, err = dsub.uint16(); err != nil {
			return s, err
		}
		if d.StartMin, err = dsub.uint16(); err != nil {
			return s, err
		}
		if d.EndDayOfWeek, err = dsub.uint8(); err != nil {
			return s, err
		}
		if d.EndHour, err = dsub.uint16(); err != nil {
			return s, err
		}
		if d.EndMin, err = dsub.uint16(); err != nil {
			return s, err
		}
		s.DateList = append(s.DateList, d)
	}

	svec, count, err := sub.vectorReader()
	if err != nil {
		return s, err
	}
	for i := 0; i < count; i++ {
		id, err := svec.uint64()
		if err != nil {
			return s, err
		}
		s.ServiceList = append(s.ServiceList, id)
	}

	if s.FreeCAFlag, err = sub.int32(); err != nil {
		return s, err
	}
	var u8 uint8
	if u8, err = sub.uint8(); err != nil {
		return s, err
	}
	s.ChkRecEnd = u8 != 0
	if s.ChkRecDay, err = sub.uint16(); err != nil {
		return s, err
	}
	return s, nil
}

// AutoAddData is one keyword reservation rule.
type AutoAddData struct {
	DataID     uint32
	SearchInfo SearchKeyInfo
	RecSetting RecSetting
	AddCount   uint32
}

func (d *AutoAddData) write(w *writer) {
	mark := w.structBegin()
	w.uint32(d.DataID)
	d.SearchInfo.write(w)
	d.RecSetting.write(w)
	w.uint32(d.AddCount)
	w.structEnd(mark)
}

func readAutoAddData(r *reader) (AutoAddData, error) {
	var d AutoAddData
	sub, err := r.structReader()
	if err != nil {
		return d, err
	}
	if d.DataID, err = sub.uint32(); err != nil {
		return d, err
	}
	if d.SearchInfo, err = readSearchKeyInfo(sub); err != nil {
		return d, err
	}
	if d.RecSetting, err = readRecSetting(sub); err != nil {
		return d, err
	}
	if d.AddCount, err = sub.uint32(); err != nil {
		return d, err
	}
	return d, nil
}

// ShortEventInfo carries the EIT short event descriptor text.
type ShortEventInfo struct {
	EventName string
	TextChar  string
}

// ExtendedEventInfo carries the EIT extended event descriptor text.
type ExtendedEventInfo struct {
	TextChar string
}

// ContentInfo carries ARIB genre nibbles.
type ContentInfo struct {
	NibbleList []ContentData
}

// AudioComponentInfoData is one audio stream description.
type AudioComponentInfoData struct {
	StreamContent      uint8
	ComponentType      uint8
	ComponentTag       uint8
	StreamType         uint8
	SimulcastGroupTag  uint8
	ESMultiLingualFlag bool
	MainComponentFlag  bool
	QualityIndicator   uint8
	SamplingRate       uint8
	TextChar           string
}

// AudioComponentInfo lists a program's audio streams.
type AudioComponentInfo struct {
	ComponentList []AudioComponentInfoData
}

// EventInfo is one EPG event.
type EventInfo struct {
	ONID           uint16
	TSID           uint16
	SID            uint16
	EID            uint16
	StartTimeFlag  bool
	StartTime      time.Time
	DurationFlag   bool
	DurationSecond uint32
	ShortInfo      *ShortEventInfo
	ExtInfo        *ExtendedEventInfo
	ContentInfo    *ContentInfo
	AudioInfo      *AudioComponentInfo
	FreeCAFlag     bool
}

func (e *EventInfo) write(w *writer) {
	mark := w.structBegin()
	w.uint16(e.ONID)
	w.uint16(e.TSID)
	w.uint16(e.SID)
	w.uint16(e.EID)
	w.uint8(boolByte(e.StartTimeFlag))
	w.systemTime(e.StartTime)
	w.uint8(boolByte(e.DurationFlag))
	w.uint32(e.DurationSecond)

	// Optional blocks are written as composites; an absent block is a
	// bare 4-byte size so readers can tell "present but empty" apart
	// from truncation.
	if e.ShortInfo != nil {
		smark := w.structBegin()
		w.string(e.ShortInfo.EventName)
		w.string(e.ShortInfo.TextChar)
		w.structEnd(smark)
	} else {
		w.uint32(4)
	}
	if e.ExtInfo != nil {
		smark := w.structBegin()
		w.string(e.ExtInfo.TextChar)
		w.structEnd(smark)
	} else {
		w.uint32(4)
	}
	if e.ContentInfo != nil {
		smark := w.structBegin()
		vmark := w.vectorBegin(len(e.ContentInfo.NibbleList))
		for _, c := range e.ContentInfo.NibbleList {
			cmark := w.structBegin()
			w.uint16(c.ContentNibble)
			w.uint16(c.UserNibble)
			w.structEnd(cmark)
		}
		w.vectorEnd(vmark)
		w.structEnd(smark)
	} else {
		w.uint32(4)
	}
	if e.AudioInfo != nil {
		smark := w.structBegin()
		vmark := w.vectorBegin(len(e.AudioInfo.ComponentList))
		for _, a := range e.AudioInfo.ComponentList {
			amark := w.structBegin()
			w.uint8(a.StreamContent)
			w.uint8(a.ComponentType)
			w.uint8(a.ComponentTag)
			w.uint8(a.StreamType)
			w.uint8(a.SimulcastGroupTag)
			w.uint8(boolByte(a.ESMultiLingualFlag))
			w.uint8(boolByte(a.MainComponentFlag))
			w.uint8(a.QualityIndicator)
			w.uint8(a.SamplingRate)
			w.string(a.TextChar)
			w.structEnd(amark)
		}
		w.vectorEnd(vmark)
		w.structEnd(smark)
	} else {
		w.uint32(4)
	}
	w.uint8(boolByte(e.FreeCAFlag))
	w.structEnd(mark)
}

func readEventInfo(r *reader) (EventInfo, error) {
	var e EventInfo
	sub, err := r.structReader()
	if err != nil {
		return e, err
	}
	if e.ONID, err = sub.uint16(); err != nil {
		return e, err
	}
	if e.TSID, err = sub.uint16(); err != nil {
		return e, err
	}
	if e.SID, err = sub.uint16(); err != nil {
		return e, err
	}
	if e.EID, err = sub.uint16(); err != nil {
		return e, err
	}
	var b uint8
	if b, err = sub.uint8(); err != nil {
		return e, err
	}
	e.StartTimeFlag = b != 0
	if e.StartTime, err = sub.systemTime(); err != nil {
		return e, err
	}
	if b, err = sub.uint8(); err != nil {
		return e, err
	}
	e.DurationFlag = b != 0
	if e.DurationSecond, err = sub.uint32(); err != nil {
		return e, err
	}

	short, err := sub.structReader()
	if err != nil {
		return e, err
	}
	if short.remaining() > 0 {
		si := &ShortEventInfo{}
		if si.EventName, err = short.string(); err != nil {
			return e, err
		}
		if si.TextChar, err = short.string(); err != nil {
			return e, err
		}
		e.ShortInfo = si
	}

	ext, err := sub.structReader()
	if err != nil {
		return e, err
	}
	if ext.remaining() > 0 {
		ei := &ExtendedEventInfo{}
		if ei.TextChar, err = ext.string(); err != nil {
			return e, err
		}
		e.ExtInfo = ei
	}

	content, err := sub.structReader()
	if err != nil {
		return e, err
	}
	if content.remaining() > 0 {
		ci := &ContentInfo{}
		cvec, count, err := content.vectorReader()
		if err != nil {
			return e, err
		}
		for i := 0; i < count; i++ {
			csub, err := cvec.structReader()
			if err != nil {
				return e, err
			}
			var c ContentData
			if c.ContentNibble, err = csub.uint16(); err != nil {
				return e, err
			}
			if c.UserNibble, err = csub.uint16(); err != nil {
				return e, err
			}
			ci.NibbleList = append(ci.NibbleList, c)
		}
		e.ContentInfo = ci
	}

	audio, err := sub.structReader()
	if err != nil {
		return e, err
	}
	if audio.remaining() > 0 {
		ai := &AudioComponentInfo{}
		avec, count, err := audio.vectorReader()
		if err != nil {
			return e, err
		}
		for i := 0; i < count; i++ {
			asub, err := avec.structReader()
			if err != nil {
				return e, err
			}
			var a AudioComponentInfoData
			if a.StreamContent, err = asub.uint8(); err != nil {
				return e, err
			}
			if a.ComponentType, err = asub.uint8(); err != nil {
				return e, err
			}
			if a.ComponentTag, err = asub.uint8(); err != nil {
				return e, err
			}
			if a.StreamType, err = asub.uint8(); err != nil {
				return e, err
			}
			if a.SimulcastGroupTag, err = asub.uint8(); err != nil {
				return e, err
			}
			var f uint8
			if f, err = asub.uint8(); err != nil {
				return e, err
			}
			a.ESMultiLingualFlag = f != 0
			if f, err = asub.uint8(); err != nil {
				return e, err
			}
			a.MainComponentFlag = f != 0
			if a.QualityIndicator, err = asub.uint8(); err != nil {
				return e, err
			}
			if a.SamplingRate, err = asub.uint8(); err != nil {
				return e, err
			}
			if a.TextChar, err = asub.string(); err != nil {
				return e, err
			}
			ai.ComponentList = append(ai.ComponentList, a)
		}
		e.AudioInfo = ai
	}

	if b, err = sub.uint8(); err != nil {
		return e, err
	}
	e.FreeCAFlag = b != 0
	return e, nil
}

// ServiceEventInfo is the EPG of one service.
type ServiceEventInfo struct {
	Service   ServiceInfo
	EventList []EventInfo
}

func (s *ServiceEventInfo) write(w *writer) {
	mark := w.structBegin()
	s.Service.write(w)
	vmark := w.vectorBegin(len(s.EventList))
	for i := range s.EventList {
		s.EventList[i].write(w)
	}
	w.vectorEnd(vmark)
	w.structEnd(mark)
}

func readServiceEventInfo(r *reader) (ServiceEventInfo, error) {
	var s ServiceEventInfo
	sub, err := r.structReader()
	if err != nil {
		return s, err
	}
	if s.Service, err = readServiceInfo(sub); err != nil {
		return s, err
	}
	vec, count, err := sub.vectorReader()
	if err != nil {
		return s, err
	}
	for i := 0; i < count; i++ {
		e, err := readEventInfo(vec)
		if err != nil {
			return s, err
		}
		s.EventList = append(s.EventList, e)
	}
	return s, nil
}

// FileData is one file returned by FileCopy2.
type FileData struct {
	Name   string
	Status uint32
	Data   []byte
}

// NotifySrvInfo is one long-poll notification.
type NotifySrvInfo struct {
	NotifyID uint32
	Time     time.Time
	Params   [6]uint32
	Param4   string
	Count    uint32
}

func readNotifySrvInfo(r *reader) (NotifySrvInfo, error) {
	var n NotifySrvInfo
	sub, err := r.structReader()
	if err != nil {
		return n, err
	}
	if n.NotifyID, err = sub.uint32(); err != nil {
		return n, err
	}
	if n.Time, err = sub.systemTime(); err != nil {
		return n, err
	}
	for i := 0; i < 3; i++ {
		if n.Params[i], err = sub.uint32(); err != nil {
			return n, err
		}
	}
	if n.Param4, err = sub.string(); err != nil {
		return n, err
	}
	for i := 3; i < 6; i++ {
		if n.Params[i], err = sub.uint32(); err != nil {
			return n, err
		}
	}
	if n.Count, err = sub.uint32(); err != nil {
		return n, err
	}
	return n, nil
}

func (n *NotifySrvInfo) write(w *writer) {
	mark := w.structBegin()
	w.uint32(n.NotifyID)
	w.systemTime(n.Time)
	for i := 0; i < 3; i++ {
		w.uint32(n.Params[i])
	}
	w.string(n.Param4)
	for i := 3; i < 6; i++ {
		w.uint32(n.Params[i])
	}
	w.uint32(n.Count)
	w.structEnd(mark)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func boolInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
